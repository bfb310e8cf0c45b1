// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"log/slog"
	"slices"
	"sync"
)

// Event is a recorded event held by Memory.
type Event struct {
	Name    string
	Details map[string]string
}

// Memory keeps events in memory. Used by tests and dry runs.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Record(event string, details ...slog.Attr) error {
	if err := checkDetails(details); err != nil {
		return err
	}
	flat := make(map[string]string, len(details))
	for _, attr := range details {
		flat[attr.Key] = attr.Value.Resolve().String()
	}
	m.mu.Lock()
	m.events = append(m.events, Event{Name: event, Details: flat})
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

// Named returns the recorded events called name.
func (m *Memory) Named(name string) []Event {
	var matched []Event
	for _, event := range m.Events() {
		if event.Name == name {
			matched = append(matched, event)
		}
	}
	return matched
}
