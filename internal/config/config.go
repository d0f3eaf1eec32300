package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	InstanceID string `env:"INSTANCE_ID"`

	RedisHost    string `env:"REDIS_HOST"  envDefault:"localhost"`
	RedisPort    uint16 `env:"REDIS_PORT"  envDefault:"6379"   validate:"min=1000,max=65535"`
	RedisEnabled bool   `env:"REDIS_ENABLED" envDefault:"true"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"chat_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"chat_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"chat_db"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`

	DefaultRoom      string `env:"DEFAULT_ROOM"       envDefault:"general" validate:"required"`
	MaxMessageLength int    `env:"MAX_MESSAGE_LENGTH" envDefault:"2000"    validate:"min=1,max=65536"`

	RoomCacheSize    int           `env:"ROOM_CACHE_SIZE"    envDefault:"100" validate:"min=1"`
	PrivateCacheSize int           `env:"PRIVATE_CACHE_SIZE" envDefault:"50"  validate:"min=1"`
	CacheTTL         time.Duration `env:"CACHE_TTL"          envDefault:"30m" validate:"gt=0"`
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL"     envDefault:"10m" validate:"gt=0"`

	DebounceWindow    time.Duration `env:"DEBOUNCE_WINDOW"    envDefault:"100ms" validate:"gt=0"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"2m"    validate:"gt=0"`
	LastSeenSync      time.Duration `env:"LAST_SEEN_SYNC"     envDefault:"30s"   validate:"gt=0"`

	PersistTimeout     time.Duration `env:"PERSIST_TIMEOUT"      envDefault:"3s"    validate:"gt=0"`
	OutboxQueueSize    int           `env:"OUTBOX_QUEUE_SIZE"    envDefault:"4096"  validate:"min=1"`
	OutboxWorkers      int           `env:"OUTBOX_WORKERS"       envDefault:"4"     validate:"min=1,max=64"`
	OutboxMaxRetries   uint64        `env:"OUTBOX_MAX_RETRIES"   envDefault:"5"`
	OutboxRetryBackoff time.Duration `env:"OUTBOX_RETRY_BACKOFF" envDefault:"200ms" validate:"gt=0"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
