package utils

// Version is the engram build version, overridden at link time via
// -ldflags "-X github.com/engramhq/engram/pkg/utils.Version=...".
var Version = "dev"
