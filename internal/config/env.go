package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type EngineEnv struct {
	// DataDir is the root of the task tree: tasks/<id>/description.json,
	// tasks/<id>/iterations/<n>/{iteration,status}.json.
	DataDir string `envconfig:"DATA_DIR" default:".taskweave"`
	// WorkflowDir is where workflow YAML documents are looked up by name.
	WorkflowDir string `envconfig:"WORKFLOW_DIR" default:".taskweave/workflows"`
	// OutputDir receives file outputs copied out of agent working directories.
	OutputDir string `envconfig:"OUTPUT_DIR" default:""`
	// DefaultStepTimeoutSec applies when neither the step nor the workflow
	// configures a timeout.
	DefaultStepTimeoutSec int `envconfig:"DEFAULT_STEP_TIMEOUT_SEC" default:"1800"`
	// WatchDebounceMs is the per-path debounce window of the status watcher.
	WatchDebounceMs int `envconfig:"WATCH_DEBOUNCE_MS" default:"300"`
}

type Env struct {
	BaseEnv
	EngineEnv
}

const namespace = "TASKWEAVE"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelInfo
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func (e *EngineEnv) DefaultStepTimeout() time.Duration {
	return time.Duration(e.DefaultStepTimeoutSec) * time.Second
}

func (e *EngineEnv) WatchDebounce() time.Duration {
	return time.Duration(e.WatchDebounceMs) * time.Millisecond
}
