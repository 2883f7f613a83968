// Package message decodes the Singer line protocol: one JSON object per
// input line, tagged by its "type" key.
package message

import (
	"encoding/json"
	"fmt"
)

// Message types defined by the Singer specification. Any other tag is
// passed through for the caller to warn about and drop.
const (
	TypeSchema = "SCHEMA"
	TypeRecord = "RECORD"
	TypeState  = "STATE"
)

// Message is one decoded line of Singer input. Which fields are set
// depends on Type.
type Message struct {
	Type          string
	Stream        string
	Schema        map[string]any
	KeyProperties []string
	Record        map[string]any
	Value         any
}

// MissingFieldError reports a line that lacks a key its message type
// requires.
type MissingFieldError struct {
	Field string
	Line  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("line is missing required key %q: %s", e.Field, e.Line)
}

// Decode parses one input line into a Message. Malformed JSON and
// missing required keys are errors; both are fatal to a run.
func Decode(line []byte) (*Message, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, fmt.Errorf("unable to parse line %q: %w", line, err)
	}

	typRaw, ok := raw["type"]
	if !ok {
		return nil, &MissingFieldError{Field: "type", Line: string(line)}
	}
	m := &Message{}
	if err := json.Unmarshal(typRaw, &m.Type); err != nil {
		return nil, fmt.Errorf("parse message type: %w", err)
	}

	switch m.Type {
	case TypeSchema:
		if err := decodeStream(raw, line, m); err != nil {
			return nil, err
		}
		if _, ok := raw["key_properties"]; !ok {
			return nil, &MissingFieldError{Field: "key_properties", Line: string(line)}
		}
		if err := json.Unmarshal(raw["key_properties"], &m.KeyProperties); err != nil {
			return nil, fmt.Errorf("parse key_properties for stream %s: %w", m.Stream, err)
		}
		schemaRaw, ok := raw["schema"]
		if !ok {
			return nil, &MissingFieldError{Field: "schema", Line: string(line)}
		}
		if err := json.Unmarshal(schemaRaw, &m.Schema); err != nil {
			return nil, fmt.Errorf("parse schema for stream %s: %w", m.Stream, err)
		}

	case TypeRecord:
		if err := decodeStream(raw, line, m); err != nil {
			return nil, err
		}
		recRaw, ok := raw["record"]
		if !ok {
			return nil, &MissingFieldError{Field: "record", Line: string(line)}
		}
		if err := json.Unmarshal(recRaw, &m.Record); err != nil {
			return nil, fmt.Errorf("parse record for stream %s: %w", m.Stream, err)
		}

	case TypeState:
		if valRaw, ok := raw["value"]; ok {
			if err := json.Unmarshal(valRaw, &m.Value); err != nil {
				return nil, fmt.Errorf("parse state value: %w", err)
			}
		}
	}

	return m, nil
}

func decodeStream(raw map[string]json.RawMessage, line []byte, m *Message) error {
	streamRaw, ok := raw["stream"]
	if !ok {
		return &MissingFieldError{Field: "stream", Line: string(line)}
	}
	if err := json.Unmarshal(streamRaw, &m.Stream); err != nil {
		return fmt.Errorf("parse stream name: %w", err)
	}
	return nil
}
