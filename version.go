package app

// Version is the application version, overridable at build time with
// -ldflags "-X app-swap-go.Version=...".
var Version = "1.0.0"
