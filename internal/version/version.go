package version

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Info returns a human-readable version line.
func Info() string {
	return "mailcron " + Version
}
