package webhook

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const schemaBase = "https://linedesk.local/schemas/"

var schemaDocs = map[string]string{
	"event.json": `{
		"type": "object",
		"required": ["type"],
		"properties": {
			"type": {"type": "string", "minLength": 1},
			"timestamp": {"type": "number"},
			"source": {"$ref": "source.json"}
		}
	}`,
	"source.json": `{
		"type": "object",
		"required": ["type"],
		"properties": {
			"type": {"type": "string"},
			"userId": {"type": "string"},
			"groupId": {"type": "string"},
			"roomId": {"type": "string"}
		}
	}`,
	"message.json": `{
		"allOf": [{"$ref": "event.json"}],
		"required": ["message", "source"],
		"properties": {
			"replyToken": {"type": "string"},
			"source": {"required": ["userId"]},
			"message": {
				"type": "object",
				"required": ["type"],
				"properties": {
					"id": {"type": "string"},
					"type": {"type": "string"},
					"text": {"type": "string"}
				},
				"if": {"properties": {"type": {"const": "text"}}},
				"then": {"required": ["text"]}
			}
		}
	}`,
	"follow.json": `{
		"allOf": [{"$ref": "event.json"}],
		"required": ["source"],
		"properties": {"replyToken": {"type": "string"}}
	}`,
	"unfollow.json": `{
		"allOf": [{"$ref": "event.json"}],
		"required": ["source"]
	}`,
	"postback.json": `{
		"allOf": [{"$ref": "event.json"}],
		"required": ["postback"],
		"properties": {
			"replyToken": {"type": "string"},
			"postback": {
				"type": "object",
				"required": ["data"],
				"properties": {"data": {"type": "string"}}
			}
		}
	}`,
}

// variant name -> compiled schema; anything else validates against event.json
var schemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	c := jsonschema.NewCompiler()
	for name, doc := range schemaDocs {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
		if err != nil {
			panic("webhook schema " + name + ": " + err.Error())
		}
		if err := c.AddResource(schemaBase+name, parsed); err != nil {
			panic("webhook schema " + name + ": " + err.Error())
		}
	}
	out := make(map[string]*jsonschema.Schema, len(schemaDocs))
	for name := range schemaDocs {
		out[strings.TrimSuffix(name, ".json")] = c.MustCompile(schemaBase + name)
	}
	return out
}

func schemaFor(eventType string) *jsonschema.Schema {
	switch eventType {
	case "message", "follow", "unfollow", "postback":
		return schemas[eventType]
	}
	return schemas["event"]
}
