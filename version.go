package cloudkvs

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var versionFile string

// Version is the current version of the cloudkvs library and CLI.
var Version = strings.TrimSpace(versionFile)
