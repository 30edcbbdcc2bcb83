package orchestrator

import "time"

type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TaskStatus is a read-only snapshot of one supervised task.
type TaskStatus struct {
	AccountID string    `json:"account_id"`
	State     State     `json:"state"`
	Failures  int       `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}
