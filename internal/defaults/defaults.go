// Package defaults provides the embedded starter environment file for
// the sysmon init subcommand.
package defaults

import _ "embed"

// EnvFile is a commented .env with every setting at its default.
//
//go:embed env.example
var EnvFile []byte
