// Package schemas embeds the JSON Schema documents the agent validates
// structured data against. Embedding keeps the binary self-contained; no
// schema files need to travel with it.
package schemas

import _ "embed"

// ProfileSchema validates the applicant profile document.
//
//go:embed profile.schema.json
var ProfileSchema string

// ApplicationRecordSchema validates persisted application records.
//
//go:embed application_record.schema.json
var ApplicationRecordSchema string
