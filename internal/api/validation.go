package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const createQueueSchema = `{
	"type": "object",
	"properties": {
		"id": { "type": "string", "minLength": 1, "maxLength": 64 }
	},
	"required": ["id"],
	"additionalProperties": false
}`

const scheduleEventSchema = `{
	"type": "object",
	"properties": {
		"data": { "type": "string" },
		"rules": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"queue": { "type": "string", "minLength": 1 },
					"schedule_for_ns": { "type": "integer", "minimum": 0 },
					"recurring": {
						"type": "object",
						"properties": {
							"times": { "type": "integer", "minimum": 1 },
							"delay_ns": { "type": "integer", "minimum": 0 }
						},
						"required": ["times", "delay_ns"],
						"additionalProperties": false
					}
				},
				"required": ["queue", "schedule_for_ns"],
				"additionalProperties": false
			}
		}
	},
	"required": ["data", "rules"],
	"additionalProperties": false
}`

const createChannelSchema = `{
	"type": "object",
	"properties": {
		"queue_ids": {
			"type": "array",
			"items": { "type": "string", "minLength": 1 },
			"minItems": 1
		},
		"buffer_options": {
			"type": "object",
			"properties": {
				"size": { "type": "integer", "minimum": 0 },
				"time_ns": { "type": "integer", "minimum": 0 }
			},
			"required": ["size", "time_ns"],
			"additionalProperties": false
		}
	},
	"required": ["queue_ids", "buffer_options"],
	"additionalProperties": false
}`

var (
	createQueueValidator   = mustCompile("create_queue.json", createQueueSchema)
	scheduleEventValidator = mustCompile("schedule_event.json", scheduleEventSchema)
	createChannelValidator = mustCompile("create_channel.json", createChannelSchema)
)

func mustCompile(name, schema string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("api: invalid embedded schema %s: %v", name, err))
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("api: invalid embedded schema %s: %v", name, err))
	}
	return sch
}

// validateBody re-decodes body into the generic representation jsonschema
// expects (maps, slices, float64, string, bool, nil) and validates it
// against sch before the caller does a second, strictly-typed decode.
func validateBody(sch *jsonschema.Schema, body []byte) error {
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return sch.Validate(v)
}
