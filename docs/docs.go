// Package docs embeds the OpenAPI document of the HTTP API.
package docs

import _ "embed"

//go:embed openapi.yaml
var OpenAPI []byte

// OpenAPIFile is the name the document is served under
const OpenAPIFile = "openapi.yaml"
