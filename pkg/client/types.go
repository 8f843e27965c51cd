package client

import (
	"encoding/json"
	"time"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the daemon's address, e.g. http://localhost:8080.
	BaseURL string
	// APIKey authenticates against the daemon's protected routes.
	APIKey string
	// Timeout bounds each request. Zero means 30 seconds.
	Timeout time.Duration
}

// StatusReport mirrors the daemon's sync status response.
type StatusReport struct {
	UnsyncedClients int        `json:"unsynced_clients"`
	UnsyncedEvents  int        `json:"unsynced_events"`
	InvalidClients  int        `json:"invalid_clients"`
	InvalidEvents   int        `json:"invalid_events"`
	TotalClients    int        `json:"total_clients"`
	TotalEvents     int        `json:"total_events"`
	Watermark       int64      `json:"last_server_version"`
	LastCheckAt     *time.Time `json:"last_check_at,omitempty"`
}

// Event is one event record from a change feed.
type Event struct {
	EventID          string          `json:"EventID"`
	BaseEntityID     string          `json:"BaseEntityID"`
	FormSubmissionID string          `json:"FormSubmissionID"`
	EventType        string          `json:"EventType"`
	SyncStatus       string          `json:"SyncStatus"`
	ValidationStatus string          `json:"ValidationStatus"`
	ServerVersion    int64           `json:"ServerVersion"`
	RowSeq           int64           `json:"RowSeq"`
	Payload          json.RawMessage `json:"Payload"`
}

// ClientRecord is one client record from a change feed.
type ClientRecord struct {
	BaseEntityID     string          `json:"BaseEntityID"`
	SyncStatus       string          `json:"SyncStatus"`
	ValidationStatus string          `json:"ValidationStatus"`
	RowSeq           int64           `json:"RowSeq"`
	Payload          json.RawMessage `json:"Payload"`
}

// EventChanges is a page of the event change feed.
type EventChanges struct {
	Events []Event `json:"events"`
	Count  int     `json:"count"`
}

// ClientChanges is a page of the client change feed.
type ClientChanges struct {
	Clients []ClientRecord `json:"clients"`
	Count   int            `json:"count"`
}
