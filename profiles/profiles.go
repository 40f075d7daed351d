// Package profiles provides embedded certificate profile templates.
//
// These templates define issuance policies and are embedded in the binary
// for convenience. Users can also copy and customize them before
// referencing them from the CA manager configuration.
package profiles

import "embed"

// FS contains all embedded profile YAML files:
//   - ee/  - end-entity profiles (TLS server under CA/B BR, OCSP responder)
//   - ca/  - subordinate CA profiles
//
//go:embed all:ee all:ca
var FS embed.FS
