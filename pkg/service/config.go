/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package service

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/srediag/plugin-voice/api"
	"github.com/srediag/plugin-voice/internal/logger"
	"github.com/srediag/plugin-voice/pkg/arbitration"
	"github.com/srediag/plugin-voice/pkg/engine"
	"github.com/srediag/plugin-voice/pkg/update"
	"github.com/srediag/plugin-voice/pkg/wakeup"
)

// RuleConfig overrides one relation of the arbitration table, e.g.
// {requested: UPDATE, existing: WAKEUP, kind: reject}.
type RuleConfig struct {
	Requested string `yaml:"requested"`
	Existing  string `yaml:"existing"`
	Kind      string `yaml:"kind"`
}

// Config configures a voice service context.
type Config struct {
	// LogLevel is applied with logger.SetLogLevel when set. VOICE_LOG_LEVEL wins.
	LogLevel *int `yaml:"log_level"`

	ExecutorCapacity int           `yaml:"executor_capacity"`
	UpdateRetryDelay time.Duration `yaml:"update_retry_delay"`

	RecognizingTimeout       time.Duration `yaml:"recognizing_timeout"`
	RecognizeCompleteTimeout time.Duration `yaml:"recognize_complete_timeout"`
	ReadCapturerTimeout      time.Duration `yaml:"read_capturer_timeout"`
	ReadWait                 time.Duration `yaml:"read_wait"`
	QueueCapacity            int           `yaml:"queue_capacity"`
	Channels                 uint32        `yaml:"channels"`
	BufferSize               uint32        `yaml:"buffer_size"`

	// WakeupRelease is "destroy" or "detach".
	WakeupRelease string `yaml:"wakeup_release"`
	NotifyWorkers int    `yaml:"notify_workers"`
	// MinFreeMemory is the readiness floor of available memory in bytes. Zero disables it.
	MinFreeMemory uint64       `yaml:"min_free_memory"`
	Arbitration   []RuleConfig `yaml:"arbitration"`
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() *Config {
	w := wakeup.DefaultConfig()
	return &Config{
		ExecutorCapacity:         2048,
		UpdateRetryDelay:         update.DefaultRetryDelay,
		RecognizingTimeout:       w.RecognizingTimeout,
		RecognizeCompleteTimeout: w.RecognizeCompleteTimeout,
		ReadCapturerTimeout:      w.ReadCapturerTimeout,
		ReadWait:                 w.ReadWait,
		QueueCapacity:            w.QueueCapacity,
		Channels:                 w.Channels,
		BufferSize:               w.BufferSize,
		WakeupRelease:            string(engine.ReleaseDestroy),
		NotifyWorkers:            2,
	}
}

// VerifyConfig checks a service configuration.
func VerifyConfig(config *Config) error {
	if config == nil {
		return errors.New("nil config")
	}
	if config.ExecutorCapacity <= 0 {
		return errors.New("executor capacity must be positive")
	}
	if config.UpdateRetryDelay <= 0 {
		return errors.New("update retry delay must be positive")
	}
	if config.NotifyWorkers <= 0 {
		return errors.New("notify workers must be positive")
	}
	if config.LogLevel != nil && (*config.LogLevel < logger.LevelTrace || *config.LogLevel > logger.LevelNoPrint) {
		return fmt.Errorf("log level %d out of range", *config.LogLevel)
	}
	if _, err := engine.ParseReleasePolicy(config.WakeupRelease); err != nil {
		return err
	}
	if _, err := config.policy(); err != nil {
		return err
	}
	return wakeup.VerifyConfig(config.wakeupConfig())
}

// LoadConfig reads a YAML file over DefaultConfig and verifies the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := VerifyConfig(config); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) wakeupConfig() *wakeup.Config {
	w := wakeup.DefaultConfig()
	w.RecognizingTimeout = c.RecognizingTimeout
	w.RecognizeCompleteTimeout = c.RecognizeCompleteTimeout
	w.ReadCapturerTimeout = c.ReadCapturerTimeout
	w.ReadWait = c.ReadWait
	w.QueueCapacity = c.QueueCapacity
	w.Channels = c.Channels
	w.BufferSize = c.BufferSize
	return w
}

func (c *Config) policy() (*arbitration.Policy, error) {
	rules := arbitration.DefaultRules()
	for _, r := range c.Arbitration {
		requested, err := api.ParseEngineType(r.Requested)
		if err != nil {
			return nil, err
		}
		existing, err := api.ParseEngineType(r.Existing)
		if err != nil {
			return nil, err
		}
		kind, err := arbitration.ParseKind(r.Kind)
		if err != nil {
			return nil, err
		}
		rules = append(rules, arbitration.Rule{Requested: requested, Existing: existing, Kind: kind})
	}
	return arbitration.NewPolicy(rules...), nil
}
