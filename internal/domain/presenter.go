// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const MaxPresenterNameLen = 64

var ErrPresenterNameTooLong = errors.New("presenter name too long")

// PresenterName is the human-chosen label viewers use to find a broadcast.
// The zero value means "unnamed".
type PresenterName string

func NewPresenterName(raw string) (PresenterName, error) {
	name := strings.TrimSpace(raw)
	if len(name) > MaxPresenterNameLen {
		return "", ErrPresenterNameTooLong
	}
	return PresenterName(name), nil
}

// PresenterInfo is a read-only view for APIs (no media handles).
type PresenterInfo struct {
	ID      string        `json:"id"`
	Name    PresenterName `json:"name,omitempty"`
	Viewers int           `json:"viewers"`
}
