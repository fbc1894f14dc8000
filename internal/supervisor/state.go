package supervisor

import (
	"time"

	"github.com/dbmigration/keeper/internal/logbuf"
)

// State is the lifecycle state of the supervised service.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
)

// Snapshot is the externally visible view of the supervisor, served by
// the status command and the control API.
type Snapshot struct {
	State          State         `json:"state"`
	Reason         string        `json:"reason"`
	PID            int           `json:"pid,omitempty"`
	StartedAt      time.Time     `json:"started_at,omitempty"`
	LastTransition time.Time     `json:"last_transition"`
	RestartCount   int           `json:"restart_count"`
	LogTail        []logbuf.Line `json:"log_tail,omitempty"`
}
