package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. An empty Driver or "none" disables it.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryRecord is one journal line. Keep it flat and schema-stable.
type DeliveryRecord struct {
	At       time.Time `json:"at"`
	Key      string    `json:"key"`
	EventID  string    `json:"event_id"`
	Label    string    `json:"label"`
	State    string    `json:"state"`
	Audience string    `json:"audience"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}
