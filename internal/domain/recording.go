package domain

import "time"

// Recording is the last known file metadata of a presenter's recording.
type Recording struct {
	Files     []string  `json:"files"`
	StartedAt time.Time `json:"started_at"`
	Rotations int       `json:"rotations"`
}

// Active reports whether recording has produced any file yet.
func (r *Recording) Active() bool { return r != nil && len(r.Files) > 0 }
