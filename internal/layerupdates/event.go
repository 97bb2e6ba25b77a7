package layerupdates

import (
	"errors"
	"strings"
	"time"
)

const (
	OpUpdate = "update"
	OpDelete = "delete"
)

// Event announces that the data behind a layer changed.
type Event struct {
	Version int       `json:"version"`
	Op      string    `json:"op"`
	Layer   string    `json:"layer"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return errors.New("version must be 1")
	}
	switch e.Op {
	case OpUpdate, OpDelete:
	default:
		return errors.New("op must be update|delete")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return errors.New("layer is required")
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	return nil
}
