package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/podcast-tracker/constants"
)

// buildJobRecordSchema returns the JSON-Schema for a job record as a generic map.
func buildJobRecordSchema() map[string]any {
	nullableString := map[string]any{"type": []string{"string", "null"}}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":                map[string]any{"type": []string{"integer", "string"}, "minLength": 1},
			"status":            map[string]any{"type": "string", "enum": constants.StatusStrings()},
			"original_file_url": nullableString,
			"final_podcast_url": nullableString,
			"created_at":        nullableString,
			"title":             nullableString,
			"duration":          map[string]any{"type": []string{"integer", "null"}, "minimum": 0},
		},
		"required": []string{"id", "status"},
	}
}

func buildTicketSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{"type": "string", "minLength": 1},
			"fields": map[string]any{
				"type":                 "object",
				"additionalProperties": map[string]any{"type": "string"},
			},
		},
		"required": []string{"url", "fields"},
	}
}

var (
	schemaOnce   sync.Once
	recordSchema *jsonschema.Schema
	ticketSchema *jsonschema.Schema
	schemaErr    error
)

func compiledSchemas() (*jsonschema.Schema, *jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		recordSchema, schemaErr = compileSchema("job_record.json", buildJobRecordSchema())
		if schemaErr != nil {
			return
		}
		ticketSchema, schemaErr = compileSchema("upload_ticket.json", buildTicketSchema())
	})
	return recordSchema, ticketSchema, schemaErr
}

func compileSchema(name string, schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile(name)
}

func validateAgainst(schema *jsonschema.Schema, data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// ValidateJobRecord checks one job record against the wire schema.
func ValidateJobRecord(data []byte) error {
	rs, _, err := compiledSchemas()
	if err != nil {
		return err
	}
	return validateAgainst(rs, data)
}

// ValidateUploadTicket checks a credential issuer response against the wire schema.
func ValidateUploadTicket(data []byte) error {
	_, ts, err := compiledSchemas()
	if err != nil {
		return err
	}
	return validateAgainst(ts, data)
}
