package daemon

import (
	"log/slog"

	"github.com/hesham156/sys/internal/config"
)

// StartOptions configures the daemon. Port and Dev override the config file when set.
type StartOptions struct {
	Home      string
	Port      int
	Dev       bool
	PprofAddr string
	// Config is loaded from <home>/config.yaml when nil.
	Config *config.Config
	Log    *slog.Logger
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
