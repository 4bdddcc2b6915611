package queue

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"driftsync/internal/models"
)

// SchemaRegistry maps each operation type to the JSON schema its
// payload is validated against at enqueue time. The payload is opaque
// to the queue after that point, but never untyped on the way in.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewSchemaRegistry returns a registry preloaded with the schemas of
// the built-in operation types.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	r := &SchemaRegistry{schemas: make(map[string]*gojsonschema.Schema)}
	for opType, raw := range builtinSchemas {
		if err := r.Register(opType, raw); err != nil {
			return nil, fmt.Errorf("builtin schema %s: %w", opType, err)
		}
	}
	return r, nil
}

// Register compiles and stores a schema for an operation type.
func (r *SchemaRegistry) Register(opType, rawSchema string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(rawSchema))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", opType, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[opType] = schema
	return nil
}

// Validate checks a payload against the schema registered for opType.
func (r *SchemaRegistry) Validate(opType string, payload []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[opType]
	r.mu.RUnlock()

	if !ok {
		return &ValidationError{OperationType: opType, Detail: "unknown operation type"}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return &ValidationError{OperationType: opType, Detail: fmt.Sprintf("payload is not valid JSON: %v", err)}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return &ValidationError{OperationType: opType, Detail: strings.Join(details, "; ")}
	}
	return nil
}

// Types returns the registered operation types.
func (r *SchemaRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	return types
}

var builtinSchemas = map[string]string{
	models.TypeAPICall: `{
        "type": "object",
        "required": ["method", "url"],
        "properties": {
            "method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
            "url": {"type": "string", "minLength": 1},
            "headers": {"type": "object", "additionalProperties": {"type": "string"}},
            "body": {}
        }
    }`,
	models.TypeFileUpload: `{
        "type": "object",
        "required": ["local_path", "destination"],
        "properties": {
            "local_path": {"type": "string", "minLength": 1},
            "destination": {"type": "string", "minLength": 1},
            "checksum": {"type": "string"},
            "content_type": {"type": "string"}
        }
    }`,
	models.TypeMetricLog: `{
        "type": "object",
        "required": ["run_id", "metrics"],
        "properties": {
            "run_id": {"type": "string", "minLength": 1},
            "metrics": {"type": "object", "minProperties": 1, "additionalProperties": {"type": "number"}},
            "step": {"type": "integer", "minimum": 0}
        }
    }`,
	models.TypeModelPush: `{
        "type": "object",
        "required": ["model_name", "artifact_path"],
        "properties": {
            "model_name": {"type": "string", "minLength": 1},
            "version": {"type": "string"},
            "artifact_path": {"type": "string", "minLength": 1},
            "tags": {"type": "array", "items": {"type": "string"}}
        }
    }`,
	models.TypeExperimentSync: `{
        "type": "object",
        "required": ["experiment_id"],
        "properties": {
            "experiment_id": {"type": "string", "minLength": 1},
            "fields": {"type": "object"}
        }
    }`,
}
