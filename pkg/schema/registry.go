// Package schema tracks the last-seen Singer schema per stream and
// validates records against it.
//
// Validation covers the JSON Schema (Draft 4) subset Singer taps emit
// in practice: required fields, property type checks including type
// unions such as ["null", "string"], and additionalProperties: false.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StreamSchema holds the registered schema for one stream.
type StreamSchema struct {
	Definition    map[string]any
	KeyProperties []string
}

// Registry maps stream names to their registered schemas. A SCHEMA
// message must register a stream before any of its records arrive.
type Registry struct {
	streams map[string]*StreamSchema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*StreamSchema)}
}

// Register stores or overwrites the schema and key properties for a
// stream. Schemas are never deleted for the lifetime of a run.
func (r *Registry) Register(stream string, definition map[string]any, keyProperties []string) {
	r.streams[stream] = &StreamSchema{
		Definition:    definition,
		KeyProperties: keyProperties,
	}
}

// Has reports whether a schema was registered for the stream.
func (r *Registry) Has(stream string) bool {
	_, ok := r.streams[stream]
	return ok
}

// KeyProperties returns the declared key properties for a stream, or
// nil if the stream is unknown.
func (r *Registry) KeyProperties(stream string) []string {
	if ss, ok := r.streams[stream]; ok {
		return ss.KeyProperties
	}
	return nil
}

// Streams returns all registered stream names in sorted order.
func (r *Registry) Streams() []string {
	names := make([]string, 0, len(r.streams))
	for name := range r.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownStreamError reports a record that arrived before its schema.
type UnknownStreamError struct {
	Stream string
}

func (e *UnknownStreamError) Error() string {
	return fmt.Sprintf("a record for stream %q was encountered before a corresponding schema", e.Stream)
}

// ValidationError reports a record that failed its stream's schema.
type ValidationError struct {
	Stream   string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("record for stream %q failed validation: %s",
		e.Stream, strings.Join(e.Problems, "; "))
}

// Validate checks a record against the stream's registered schema.
// Returns UnknownStreamError if no schema was ever registered and
// ValidationError if the record does not conform.
func (r *Registry) Validate(stream string, record map[string]any) error {
	ss, ok := r.streams[stream]
	if !ok {
		return &UnknownStreamError{Stream: stream}
	}

	problems := validateObject(record, ss.Definition)
	if len(problems) > 0 {
		return &ValidationError{Stream: stream, Problems: problems}
	}
	return nil
}

// validateObject walks a schema definition and collects problems.
func validateObject(record map[string]any, schemaDef map[string]any) []string {
	var problems []string

	// Required fields
	if required, ok := schemaDef["required"].([]any); ok {
		for _, r := range required {
			fieldName, ok := r.(string)
			if !ok {
				continue
			}
			if _, exists := record[fieldName]; !exists {
				problems = append(problems, fmt.Sprintf("missing required field: %s", fieldName))
			}
		}
	}

	// Field types from "properties", walked in sorted order so error
	// output is deterministic.
	if props, ok := schemaDef["properties"].(map[string]any); ok {
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, fieldName := range names {
			val, exists := record[fieldName]
			if !exists {
				continue // not required, skip
			}

			propMap, ok := props[fieldName].(map[string]any)
			if !ok {
				continue
			}

			expected, ok := propMap["type"]
			if !ok {
				continue
			}

			if !checkType(val, expected) {
				problems = append(problems,
					fmt.Sprintf("field %s: expected type %v, got %T", fieldName, expected, val))
			}
		}
	}

	// additionalProperties: false
	if addProps, ok := schemaDef["additionalProperties"]; ok {
		if addPropsBool, ok := addProps.(bool); ok && !addPropsBool {
			if props, ok := schemaDef["properties"].(map[string]any); ok {
				extras := make([]string, 0)
				for fieldName := range record {
					if _, defined := props[fieldName]; !defined {
						extras = append(extras, fieldName)
					}
				}
				sort.Strings(extras)
				for _, fieldName := range extras {
					problems = append(problems,
						fmt.Sprintf("unexpected field: %s (additionalProperties: false)", fieldName))
				}
			}
		}
	}

	return problems
}

// checkType validates a Go value against a JSON Schema type, which may
// be a single type name or a union like ["null", "string"].
func checkType(val any, expected any) bool {
	switch exp := expected.(type) {
	case string:
		return checkSingleType(val, exp)
	case []any:
		for _, e := range exp {
			name, ok := e.(string)
			if !ok {
				continue
			}
			if checkSingleType(val, name) {
				return true
			}
		}
		return false
	}
	return true
}

func checkSingleType(val any, expectedType string) bool {
	if val == nil {
		return expectedType == "null"
	}
	switch expectedType {
	case "string":
		_, ok := val.(string)
		return ok
	case "number":
		switch val.(type) {
		case float64, float32, int, int64, int32, json.Number:
			return true
		}
		return false
	case "integer":
		switch v := val.(type) {
		case float64:
			return v == float64(int64(v))
		case int, int64, int32:
			return true
		}
		return false
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	case "null":
		return val == nil
	}
	return true
}
