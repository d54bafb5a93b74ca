package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"taskengine/pkg/logx"
)

// Config is the host process's on-disk configuration. Unknown fields are
// rejected so a typo in the file surfaces at startup rather than silently
// being ignored.
type Config struct {
	HTTP struct {
		Address string `json:"address" yaml:"address"`
		Prefix  string `json:"prefix" yaml:"prefix"`
	} `json:"http" yaml:"http"`

	Engine struct {
		GracePeriodSeconds int            `json:"grace_period_seconds" yaml:"grace_period_seconds"`
		MaxSucceededTasks  int            `json:"max_succeeded_tasks" yaml:"max_succeeded_tasks"`
		ExtraSemaphores    map[string]int `json:"extra_semaphores" yaml:"extra_semaphores"`
	} `json:"engine" yaml:"engine"`

	Logging logx.Config `json:"logging" yaml:"logging"`
}

func (c Config) withDefaults() Config {
	if c.HTTP.Address == "" {
		c.HTTP.Address = "127.0.0.1:8080"
	}
	if c.HTTP.Prefix == "" {
		c.HTTP.Prefix = "/api/tasks"
	}
	if c.Engine.GracePeriodSeconds <= 0 {
		c.Engine.GracePeriodSeconds = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}
	return c
}

func (c Config) gracePeriod() time.Duration {
	return time.Duration(c.Engine.GracePeriodSeconds) * time.Second
}

// loadConfig reads path (YAML or JSON by extension) and decodes it
// strictly into a Config. A missing file is not an error: the process
// runs with built-in defaults, matching how a fresh checkout of a host
// binary should behave before an operator has written one.
func loadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}.withDefaults(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	jsonBytes, err := coerceToJSONBytes(path, data)
	if err != nil {
		return Config{}, err
	}

	dec := json.NewDecoder(strings.NewReader(string(jsonBytes)))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg.withDefaults(), nil
}

// coerceToJSONBytes converts YAML input to JSON bytes so the strict JSON
// decoder (DisallowUnknownFields) can be reused for both formats.
func coerceToJSONBytes(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	v = normalizeYAML(v)

	j, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[k] = normalizeYAML(v)
		}
		return m
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
