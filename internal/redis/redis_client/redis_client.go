package redis_client

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient connects to Redis and checks the connection. clientName
// shows up in CLIENT LIST so instances can be told apart.
func NewRedisClient(host string, port int, clientName string) (*redis.Client, error) {
	maxPool := min(runtime.NumCPU()*8, 512)

	rc := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%d", host, port),
		PoolSize:   maxPool,
		ClientName: clientName,
	})

	ctx, cancelFunc := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFunc()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		err = errors.New("redis connection failed: " + err.Error())
		zap.L().Error("redis_connect", zap.Error(err))
		return nil, err
	}
	zap.L().Debug("redis_connect",
		zap.String("addr", rc.Options().Addr),
		zap.Int("pool_size", maxPool))
	return rc, nil
}
