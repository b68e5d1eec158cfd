// Package api provides the HTTP API server for recording utterances,
// querying memory context, running answer repair, and inspecting stored
// memories.
package api

// Config is the API server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8086")
	ListenAddr string
}
