// Package config loads triggerman's task descriptors: one config.json per
// task directory, deserialized as a tagged union on trigger.type.
package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kildevaeld/triggerman/fswatch"
	"github.com/kildevaeld/triggerman/manual"
)

// ErrUnknownTriggerType is returned when trigger.type does not name one of
// the known trigger kinds.
var ErrUnknownTriggerType = errors.New("config: unknown trigger type")

// TriggerConfig is the tagged-union trigger descriptor from config.json,
// decoded by peeking trigger.type before picking a concrete Go type.
type TriggerConfig interface {
	// Tag names the backend this trigger targets ("manual" or "fs"),
	// matching the tag Engine.AddTrigger dispatches on.
	Tag() string
	// Descriptor returns the backend-native descriptor value to register.
	Descriptor() any
}

// NotifyConfig is the "NotifyConfig" trigger: watch a set of paths.
type NotifyConfig struct {
	Paths     []string `json:"paths"`
	Recursive bool     `json:"recursive"`
}

// Tag implements TriggerConfig.
func (n NotifyConfig) Tag() string { return fswatch.Tag }

// Descriptor implements TriggerConfig.
func (n NotifyConfig) Descriptor() any {
	return fswatch.Descriptor{Paths: n.Paths, Recursive: n.Recursive}
}

// ManuelConfig is the "ManuelConfig" trigger: fire on a named manual poke.
// The "Manuel" spelling is carried over from the original config schema
// rather than corrected to "Manual", since it is the wire format.
type ManuelConfig struct {
	Name string `json:"name"`
}

// Tag implements TriggerConfig.
func (m ManuelConfig) Tag() string { return manual.Tag }

// Descriptor implements TriggerConfig.
func (m ManuelConfig) Descriptor() any { return manual.Descriptor{Name: m.Name} }

// TaskConfig is one task directory's config.json.
type TaskConfig struct {
	Trigger TriggerConfig
	WorkDir string
	Task    string
}

type rawTaskConfig struct {
	Trigger json.RawMessage `json:"trigger"`
	WorkDir string          `json:"work_dir"`
	Task    string          `json:"task"`
}

type triggerTag struct {
	Type string `json:"type"`
}

// UnmarshalJSON decodes the tagged-union trigger field by inspecting its
// "type" discriminant before picking a concrete Go type to decode into.
func (c *TaskConfig) UnmarshalJSON(data []byte) error {
	var raw rawTaskConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	var tag triggerTag
	if err := json.Unmarshal(raw.Trigger, &tag); err != nil {
		return fmt.Errorf("config: decode trigger.type: %w", err)
	}

	trigger, err := decodeTrigger(tag.Type, raw.Trigger)
	if err != nil {
		return err
	}

	c.Trigger = trigger
	c.WorkDir = raw.WorkDir
	c.Task = raw.Task
	return nil
}

func decodeTrigger(tagType string, data json.RawMessage) (TriggerConfig, error) {
	switch tagType {
	case "NotifyConfig":
		var nc NotifyConfig
		if err := json.Unmarshal(data, &nc); err != nil {
			return nil, fmt.Errorf("config: decode NotifyConfig: %w", err)
		}
		return nc, nil

	case "ManuelConfig":
		var mc ManuelConfig
		if err := json.Unmarshal(data, &mc); err != nil {
			return nil, fmt.Errorf("config: decode ManuelConfig: %w", err)
		}
		return mc, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTriggerType, tagType)
	}
}

// Load reads and decodes one config.json file's contents.
func Load(data []byte) (TaskConfig, error) {
	var cfg TaskConfig
	err := json.Unmarshal(data, &cfg)
	return cfg, err
}
