package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"deskbridge/internal/domain"
)

// argSchemas describes the positional argument tuple of each method.
// Methods without an entry take no arguments; extra trailing arguments are
// ignored everywhere, matching what older renderers send.
var argSchemas = map[domain.Method]string{
	domain.MethodFindInPage: `{
		"type": "array", "minItems": 1,
		"prefixItems": [
			{"type": "string"},
			{"type": ["object", "null"], "properties": {
				"forward": {"type": "boolean"},
				"matchCase": {"type": "boolean"},
				"findNext": {"type": "boolean"}
			}}
		]
	}`,
	domain.MethodSetSearchOverlayState: `{
		"type": "array", "minItems": 2,
		"prefixItems": [{"type": "boolean"}, {"type": "boolean"}]
	}`,
	domain.MethodGetConfigValue: `{
		"type": "array", "minItems": 1,
		"prefixItems": [{"type": "string", "minLength": 1}]
	}`,
	domain.MethodSetConfigValue: `{
		"type": "array", "minItems": 2,
		"prefixItems": [{"type": "string", "minLength": 1}, true]
	}`,
	domain.MethodOpenFileChooser: `{
		"type": "array",
		"prefixItems": [true, {"type": ["boolean", "null"]}]
	}`,
	domain.MethodOpen: `{
		"type": "array", "minItems": 1,
		"prefixItems": [{"type": "string", "minLength": 1}, {"type": ["string", "null"]}]
	}`,
	domain.MethodDownload: `{
		"type": "array", "minItems": 2,
		"prefixItems": [
			{"type": "string", "minLength": 1},
			{"type": "string", "minLength": 1},
			{"type": ["object", "null"], "additionalProperties": {"type": "string"}}
		]
	}`,
	domain.MethodSaveBlob: `{
		"type": "array", "minItems": 2,
		"prefixItems": [
			{"type": "string", "minLength": 1},
			{"type": "string", "contentEncoding": "base64"}
		]
	}`,
	domain.MethodAesDecryptFile: `{
		"type": "array", "minItems": 2,
		"prefixItems": [{"type": "string", "minLength": 1}, {"type": "string", "minLength": 1}]
	}`,
	domain.MethodGetPushIdentifier: `{
		"type": "array", "minItems": 2,
		"prefixItems": [{"type": "string"}, {"type": "string"}]
	}`,
	domain.MethodStorePushIdentifierLocally: `{
		"type": "array", "minItems": 5,
		"prefixItems": [
			{"type": "string"},
			{"type": "string"},
			{"type": "string"},
			{"type": "string"},
			{"type": "string"}
		]
	}`,
	domain.MethodSendSocketMessage: `{
		"type": "array", "minItems": 1
	}`,
	domain.MethodChangeLanguage: `{
		"type": "array", "minItems": 1,
		"prefixItems": [{
			"type": "object",
			"required": ["code"],
			"properties": {
				"code": {"type": "string", "minLength": 1},
				"languageTag": {"type": "string"}
			}
		}]
	}`,
	domain.MethodMailToMsg: `{
		"type": "array", "minItems": 2,
		"prefixItems": [
			{"type": "object", "required": ["subject"], "properties": {
				"subject": {"type": "string"},
				"body": {"type": "string"},
				"attachments": {"type": ["array", "null"]}
			}},
			{"type": "string", "minLength": 1}
		]
	}`,
	domain.MethodSaveToExportDir: `{
		"type": "array", "minItems": 1,
		"prefixItems": [{
			"type": "object",
			"required": ["name", "data"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"mimeType": {"type": "string"},
				"data": {"type": "string"}
			}
		}]
	}`,
	domain.MethodCheckFileExistsInExportDirectory: `{
		"type": "array", "minItems": 1,
		"prefixItems": [{"type": "string", "minLength": 1}]
	}`,
	domain.MethodStartNativeDrag: `{
		"type": "array", "minItems": 1,
		"prefixItems": [{"type": "array", "items": {"type": "string", "minLength": 1}}]
	}`,
	domain.MethodScheduleAlarms: `{
		"type": "array", "minItems": 1,
		"prefixItems": [{
			"type": "array",
			"items": {
				"type": "object",
				"required": ["operation", "alarmIdentifier"],
				"properties": {
					"operation": {"enum": ["create", "delete"]},
					"alarmIdentifier": {"type": "string", "minLength": 1},
					"user": {"type": "string"},
					"summary": {"type": "string"},
					"eventStart": {"type": "string"},
					"trigger": {"type": "string"},
					"pushIdentifierId": {"type": "string"}
				}
			}
		}]
	}`,
}

// compileSchemas compiles every argument schema up front so a broken schema
// fails at startup, not on the first call.
func compileSchemas() (map[domain.Method]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	for m, src := range argSchemas {
		if err := compiler.AddResource(schemaURL(m), strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("add schema resource for %q: %w", m, err)
		}
	}
	compiled := make(map[domain.Method]*jsonschema.Schema, len(argSchemas))
	for m := range argSchemas {
		s, err := compiler.Compile(schemaURL(m))
		if err != nil {
			return nil, fmt.Errorf("compile schema for %q: %w", m, err)
		}
		compiled[m] = s
	}
	return compiled, nil
}

func schemaURL(m domain.Method) string { return m.String() + ".json" }

// validateArgs checks args against the method's schema, if it has one.
func validateArgs(schema *jsonschema.Schema, m domain.Method, args []json.RawMessage) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(rawArgs(args))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidArguments, m, err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidArguments, m, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidArguments, m, err)
	}
	return nil
}

// rawArgs replaces missing entries with null so the tuple re-encodes.
func rawArgs(args []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		if len(a) == 0 {
			out[i] = json.RawMessage("null")
		} else {
			out[i] = a
		}
	}
	return out
}

// decodeArgs unmarshals positional arguments into dsts. Missing or null
// arguments leave the destination at its zero value.
func decodeArgs(m domain.Method, args []json.RawMessage, dsts ...any) error {
	for i, dst := range dsts {
		if i >= len(args) || len(args[i]) == 0 || string(args[i]) == "null" {
			continue
		}
		if err := json.Unmarshal(args[i], dst); err != nil {
			return fmt.Errorf("%w: %s arg %d: %v", domain.ErrInvalidArguments, m, i, err)
		}
	}
	return nil
}
