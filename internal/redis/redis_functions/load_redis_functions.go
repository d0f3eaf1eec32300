// Package redis_functions ships the Lua function libraries the presence
// mirror calls through FCALL.
package redis_functions

import (
	"context"
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

//go:embed *.lua
var fs embed.FS

// Libraries returns the embedded library file names, without extension.
func Libraries() ([]string, error) {
	files, err := fs.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("read embed dir: %w", err)
	}
	var out []string
	for _, f := range files {
		if f.IsDir() || path.Ext(f.Name()) != ".lua" {
			continue
		}
		out = append(out, strings.TrimSuffix(f.Name(), ".lua"))
	}
	return out, nil
}

// LoadAll loads or replaces every embedded library. A failing library does
// not stop the others from loading; all failures are returned together.
func LoadAll(ctx context.Context, rdb *redis.Client) error {
	libs, err := Libraries()
	if err != nil {
		return err
	}
	var errs error
	for _, lib := range libs {
		code, err := fs.ReadFile(lib + ".lua")
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := rdb.FunctionLoadReplace(ctx, string(code)).Err(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("load lua %s: %w", lib, err))
			continue
		}
		zap.L().Info("redis_functions.loaded", zap.String("library", lib))
	}
	return errs
}
