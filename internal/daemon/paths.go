package daemon

import (
	"path/filepath"
)

// Runtime files live next to the SQLite database in <home>/protected.
const (
	pidFile  = "printflow.pid"
	lockFile = "printflow.lock"
	addrFile = "printflow.addr"
	logFile  = "printflow.log"
)

func protectedDir(home string) string { return filepath.Join(home, "protected") }

func pidPath(home string) string  { return filepath.Join(protectedDir(home), pidFile) }
func lockPath(home string) string { return filepath.Join(protectedDir(home), lockFile) }
func addrPath(home string) string { return filepath.Join(protectedDir(home), addrFile) }

// LogPath is where a background daemon writes its log.
func LogPath(home string) string { return filepath.Join(protectedDir(home), logFile) }
