// Package settings exposes application settings to workflow components.
//
// Approval thresholds and condition leaves can reference settings by key, so
// the engine needs a read path that works both in production (environment
// backed) and in tests (static maps).
package settings

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
)

// ErrSettingNotFound is returned when a setting key has no value.
var ErrSettingNotFound = errors.New("setting not found")

// Settings reads application configuration values by key.
type Settings interface {
	Get(ctx context.Context, key string) (string, error)
	GetInt(ctx context.Context, key string) (int, error)
}

// Static is a fixed in-memory settings source.
type Static struct {
	values map[string]string
}

// NewStatic returns a settings source backed by the given map.
func NewStatic(values map[string]string) *Static {
	if values == nil {
		values = map[string]string{}
	}

	return &Static{values: values}
}

func (s *Static) Get(_ context.Context, key string) (string, error) {
	value, ok := s.values[key]
	if !ok {
		return "", ErrSettingNotFound
	}

	return value, nil
}

func (s *Static) GetInt(ctx context.Context, key string) (int, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(value)
}

// Env reads settings from environment variables. Keys are upper-cased and
// dots become underscores, so "approvals.min_count" maps to
// "TIDEFLOW_APPROVALS_MIN_COUNT".
type Env struct {
	prefix string
}

// NewEnv returns an environment-backed settings source with the given prefix.
func NewEnv(prefix string) *Env {
	return &Env{prefix: prefix}
}

func (e *Env) Get(_ context.Context, key string) (string, error) {
	name := e.prefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))

	value, ok := os.LookupEnv(name)
	if !ok {
		return "", ErrSettingNotFound
	}

	return value, nil
}

func (e *Env) GetInt(ctx context.Context, key string) (int, error) {
	value, err := e.Get(ctx, key)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(value)
}
