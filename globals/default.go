package globals

import "github.com/hashicorp/go-hclog"

// AppLogger is the process-wide logger. Components derive named sub-loggers from it.
var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "chat-app",
	Level: hclog.LevelFromString("INFO"),
})

// SetLogLevel changes the level of AppLogger, ignoring unknown level names.
func SetLogLevel(level string) {
	if l := hclog.LevelFromString(level); l != hclog.NoLevel {
		AppLogger.SetLevel(l)
	}
}
