// Package configs embeds the default rule documents. Deployments override
// any of them with files on disk; the embedded copies keep a bare binary
// usable and give the tests a realistic rule base.
package configs

import _ "embed"

//go:embed patterns.yaml
var Patterns []byte

//go:embed routes.yaml
var Routes []byte

//go:embed completeness.yaml
var Completeness []byte

//go:embed refinements.yaml
var Refinements []byte

//go:embed questions.yaml
var Questions []byte

//go:embed servicenow.yaml
var ServiceNow []byte

//go:embed alerts.yaml
var Alerts []byte
