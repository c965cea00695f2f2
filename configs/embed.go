// Package configs carries the embedded configuration template. Embedding
// at build time keeps `citeseek config init` working in every
// distribution, source builds and binary releases alike.
package configs

import _ "embed"

// ConfigTemplate is the annotated example configuration written by
// `citeseek config init`.
//
//go:embed citeseek.example.yaml
var ConfigTemplate string
