package version

// Current defines the application version.
// It defaults to "dev" but is overwritten at build time using -ldflags.
var Current = "dev"

// AppName is used in the User-Agent, tracer name and console banner.
const AppName = "awsnare"
