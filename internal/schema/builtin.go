/*
Copyright 2024 The Deckhand Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package schema

// Builtin JSON Schemas. The root schema applies to every document and the
// metadata schemas to the two metadata families; both validate shape, not
// content. The kind schemas apply to the data section only, the same way
// DataSchema registrations do.

const rootSchema = `{
	"type": "object",
	"properties": {
		"schema": {
			"type": "string",
			"pattern": "^[A-Za-z0-9-_]+/[A-Za-z0-9-_]+/v\\d+(\\.\\d+)?$"
		},
		"metadata": {
			"type": "object",
			"properties": {
				"schema": {"type": "string"},
				"name": {"type": "string"}
			},
			"additionalProperties": true,
			"required": ["schema", "name"]
		},
		"data": {}
	},
	"additionalProperties": false,
	"required": ["schema", "metadata"]
}`

const metadataDocumentSchema = `{
	"type": "object",
	"properties": {
		"schema": {
			"type": "string",
			"pattern": "^metadata/Document/v\\d+(\\.\\d+)?$"
		},
		"name": {"type": "string"},
		"labels": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"layeringDefinition": {
			"type": "object",
			"properties": {
				"layer": {"type": "string"},
				"abstract": {"type": "boolean"},
				"parentSelector": {
					"type": "object",
					"additionalProperties": {"type": "string"},
					"minProperties": 1
				},
				"actions": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"path": {"type": "string"},
							"method": {"enum": ["merge", "replace", "delete"]}
						},
						"additionalProperties": false,
						"required": ["path", "method"]
					}
				}
			},
			"additionalProperties": false,
			"required": ["layer"]
		},
		"substitutions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"src": {
						"type": "object",
						"properties": {
							"schema": {"type": "string"},
							"name": {"type": "string"},
							"path": {"type": "string"}
						},
						"additionalProperties": false,
						"required": ["schema", "name", "path"]
					},
					"dest": {
						"oneOf": [
							{"$ref": "#/$defs/dest"},
							{"type": "array", "items": {"$ref": "#/$defs/dest"}, "minItems": 1}
						]
					}
				},
				"additionalProperties": false,
				"required": ["src", "dest"]
			}
		},
		"storagePolicy": {"enum": ["encrypted", "cleartext"]},
		"replacement": {"type": "boolean"}
	},
	"$defs": {
		"dest": {
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"pattern": {"type": "string"}
			},
			"additionalProperties": false,
			"required": ["path"]
		}
	},
	"additionalProperties": false,
	"required": ["schema", "name", "layeringDefinition"]
}`

const metadataControlSchema = `{
	"type": "object",
	"properties": {
		"schema": {
			"type": "string",
			"pattern": "^metadata/Control/v\\d+(\\.\\d+)?$"
		},
		"name": {"type": "string"},
		"labels": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"storagePolicy": {"enum": ["encrypted", "cleartext"]}
	},
	"additionalProperties": false,
	"required": ["schema", "name"]
}`

const layeringPolicySchema = `{
	"type": "object",
	"properties": {
		"layerOrder": {
			"type": "array",
			"items": {"type": "string"},
			"minItems": 1
		}
	},
	"additionalProperties": true,
	"required": ["layerOrder"]
}`

const dataSchemaSchema = `{
	"type": "object"
}`

const secretSchema = `{
	"type": "string"
}`

const validationPolicySchema = `{
	"type": "object",
	"properties": {
		"validations": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {
						"type": "string",
						"pattern": "^.*-(validation|verification)$"
					},
					"expiresAfter": {"type": "string"}
				},
				"additionalProperties": false,
				"required": ["name"]
			}
		}
	},
	"additionalProperties": true,
	"required": ["validations"]
}`

// builtinKinds maps document kinds to their builtin data schemas.
var builtinKinds = map[string]string{
	"deckhand/LayeringPolicy/v1":          layeringPolicySchema,
	"deckhand/DataSchema/v1":              dataSchemaSchema,
	"deckhand/ValidationPolicy/v1":        validationPolicySchema,
	"deckhand/Certificate/v1":             secretSchema,
	"deckhand/CertificateKey/v1":          secretSchema,
	"deckhand/CertificateAuthority/v1":    secretSchema,
	"deckhand/CertificateAuthorityKey/v1": secretSchema,
	"deckhand/Passphrase/v1":              secretSchema,
	"deckhand/PrivateKey/v1":              secretSchema,
	"deckhand/PublicKey/v1":               secretSchema,
}
