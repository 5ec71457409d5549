package queue

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/okline/readpulse/internal/event"
)

// spillEnvelope wraps the spilled events with a version so future format
// changes can discard stale files instead of misreading them.
type spillEnvelope struct {
	Version int            `cbor:"version"`
	Events  []*event.Event `cbor:"events"`
}

const spillVersion = 1

// saveSpill writes undelivered events to path in CBOR.
func saveSpill(path string, events []*event.Event) error {
	data, err := cbor.Marshal(spillEnvelope{
		Version: spillVersion,
		Events:  events,
	})
	if err != nil {
		return fmt.Errorf("failed to encode spill: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write spill file: %w", err)
	}
	return nil
}

// loadSpill reads and removes the spill file at path.
// A missing file yields no events and no error.
func loadSpill(path string) ([]*event.Event, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read spill file: %w", err)
	}

	// Consume the file regardless of decode outcome so a corrupt spill
	// does not wedge every subsequent startup.
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("failed to remove spill file: %w", err)
	}

	var envelope spillEnvelope
	if err := cbor.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode spill: %w", err)
	}
	if envelope.Version != spillVersion {
		return nil, fmt.Errorf("unsupported spill version %d", envelope.Version)
	}
	return envelope.Events, nil
}
