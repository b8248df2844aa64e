// internal/compiler/schema.go
package compiler

// ruleSchema is the contract an LLM-authored rule document must satisfy
// before it is decoded.
const ruleSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["type", "conditions", "actions"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 200},
    "description": {"type": "string"},
    "type": {"enum": ["time_window", "count", "schedule", "combo"]},
    "logical_operator": {"enum": ["AND", "OR"]},
    "priority": {"type": "integer"},
    "conditions": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["field", "operator", "value"],
        "properties": {
          "field": {"enum": ["activity", "app", "bundle_id", "domain"]},
          "operator": {"enum": ["==", ">", "<", ">=", "<="]},
          "value": {"$ref": "#/$defs/scalar"}
        }
      }
    },
    "time_window": {
      "type": "object",
      "additionalProperties": false,
      "required": ["duration_seconds", "lookback_seconds"],
      "properties": {
        "duration_seconds": {"type": "integer", "minimum": 1},
        "lookback_seconds": {"type": "integer", "minimum": 1},
        "threshold_seconds": {"type": "integer", "minimum": 0}
      }
    },
    "count": {
      "type": "object",
      "additionalProperties": false,
      "required": ["max_count"],
      "properties": {
        "max_count": {"type": "integer", "minimum": 0},
        "reset_interval_seconds": {"type": "integer", "minimum": 0}
      }
    },
    "schedule": {
      "type": "object",
      "additionalProperties": false,
      "required": ["start_time", "end_time", "days"],
      "properties": {
        "start_time": {"type": "string", "pattern": "^([01][0-9]|2[0-3]):[0-5][0-9]$"},
        "end_time": {"type": "string", "pattern": "^([01][0-9]|2[0-3]):[0-5][0-9]$"},
        "days": {"type": "array", "minItems": 1, "items": {"type": "integer", "minimum": 1, "maximum": 7}},
        "timezone": {"type": "string"}
      }
    },
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["type"],
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "parameters": {
            "type": "object",
            "additionalProperties": {
              "anyOf": [
                {"$ref": "#/$defs/scalar"},
                {"type": "array", "items": {"$ref": "#/$defs/scalar"}}
              ]
            }
          }
        }
      }
    }
  },
  "allOf": [
    {"if": {"properties": {"type": {"const": "time_window"}}}, "then": {"required": ["time_window"]}},
    {"if": {"properties": {"type": {"const": "count"}}}, "then": {"required": ["count"]}},
    {"if": {"properties": {"type": {"const": "schedule"}}}, "then": {"required": ["schedule"]}},
    {"if": {"properties": {"type": {"const": "combo"}}}, "then": {"required": ["time_window", "count"]}}
  ],
  "$defs": {
    "scalar": {"type": ["string", "number", "boolean"]}
  }
}`

// Schema returns the JSON Schema compiled rules are checked against.
func Schema() string { return ruleSchema }
