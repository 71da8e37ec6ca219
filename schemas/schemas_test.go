package schemas

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"
)

var embeddedSchemas = map[string]string{
	"profile.schema.json":            ProfileSchema,
	"application_record.schema.json": ApplicationRecordSchema,
}

func TestAllSchemaFiles_ValidJSON(t *testing.T) {
	for name, content := range embeddedSchemas {
		t.Run(name, func(t *testing.T) {
			require.NotEmpty(t, content, "embedded schema should not be empty")

			var v interface{}
			err := json.Unmarshal([]byte(content), &v)
			assert.NoError(t, err, "schema file should be valid JSON: %s", name)
		})
	}
}

func TestSchemaFiles_ValidJSONSchema(t *testing.T) {
	for name, content := range embeddedSchemas {
		t.Run(name, func(t *testing.T) {
			var schemaObj map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(content), &schemaObj))

			_, hasType := schemaObj["type"]
			_, hasSchema := schemaObj["$schema"]
			_, hasProps := schemaObj["properties"]
			assert.True(t, hasType && hasSchema && hasProps,
				"schema should declare type, $schema and properties")

			// The schema itself must compile
			_, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(content))
			assert.NoError(t, err, "schema should compile: %s", name)
		})
	}
}

func TestSchemas_RejectEmptyDocument(t *testing.T) {
	for name, content := range embeddedSchemas {
		t.Run(name, func(t *testing.T) {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(content))
			require.NoError(t, err)

			result, err := schema.Validate(gojsonschema.NewStringLoader(`{}`))
			require.NoError(t, err)
			assert.False(t, result.Valid(), "empty document must fail required checks")
		})
	}
}
