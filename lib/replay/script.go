// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"
)

// ErrUnknownOperation is returned for a step whose op names no
// tracker operation.
var ErrUnknownOperation = errors.New("replay: unknown operation")

// Script is a parsed playback script.
type Script struct {
	// Attributes are set as custom attributes before any session runs.
	Attributes map[string]string `json:"attributes,omitempty"`

	Sessions []Session `json:"sessions"`
}

// Session is the step list of one playback session.
type Session struct {
	ID    string `json:"id"`
	Steps []Step `json:"steps"`
}

// Step is one tracker operation.
type Step struct {
	// Op is the operation name, e.g. "started" or "bufferingEnded".
	Op string `json:"op"`

	// Position is the playback position in milliseconds. Ignored by
	// operations that do not take one.
	Position int64 `json:"position,omitempty"`

	Params map[string]string `json:"params,omitempty"`

	// Wait is slept before the step runs.
	Wait Duration `json:"wait,omitempty"`
}

// Duration is a time.Duration written as a Go duration string
// ("1.5s", "2m") in scripts.
type Duration time.Duration

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("wait must be a duration string: %w", err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("wait must not be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON writes the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals and validates the script.
func Parse(data []byte) (*Script, error) {
	stripped := jsonc.ToJSON(data)

	var script Script
	if err := json.Unmarshal(stripped, &script); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if err := script.Validate(); err != nil {
		return nil, err
	}
	return &script, nil
}

// ReadFile reads and parses a script file.
func ReadFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	script, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return script, nil
}

// Validate checks that every session has a unique ID and every step a
// known operation. All problems are reported together.
func (s *Script) Validate() error {
	var errs []error
	if len(s.Sessions) == 0 {
		errs = append(errs, errors.New("script has no sessions"))
	}
	seen := make(map[string]bool, len(s.Sessions))
	for i, session := range s.Sessions {
		if session.ID == "" {
			errs = append(errs, fmt.Errorf("sessions[%d]: id is required", i))
		} else if seen[session.ID] {
			errs = append(errs, fmt.Errorf("sessions[%d]: duplicate id %q", i, session.ID))
		}
		seen[session.ID] = true
		for j, step := range session.Steps {
			if _, ok := operations[step.Op]; !ok {
				errs = append(errs, fmt.Errorf("sessions[%d].steps[%d]: %w: %q", i, j, ErrUnknownOperation, step.Op))
			}
		}
	}
	return errors.Join(errs...)
}
