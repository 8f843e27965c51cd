// Package types holds the domain model shared by the store and the sync
// engines: record envelopes, status enumerations, and the wire shapes of the
// sync protocol.
package types

import (
	"encoding/json"
	"time"
)

// SyncStatus is the push-eligibility state of a record. Stored as text at the
// store boundary; everything above the store works with this closed type.
type SyncStatus string

const (
	StatusUnprocessed     SyncStatus = "Unprocessed"
	StatusUnsynced        SyncStatus = "Unsynced"
	StatusSynced          SyncStatus = "Synced"
	StatusTaskUnprocessed SyncStatus = "TaskUnprocessed"
)

// ValidationStatus is the server-side validation verdict for a record.
// The zero value means no verdict has been received yet.
type ValidationStatus string

const (
	ValidationUnset   ValidationStatus = ""
	ValidationValid   ValidationStatus = "Valid"
	ValidationInvalid ValidationStatus = "Invalid"
)

// Payload JSON keys the store extracts indexed columns from.
const (
	KeyBaseEntityID     = "baseEntityId"
	KeyFormSubmissionID = "formSubmissionId"
	KeyEventID          = "id"
	KeyEventType        = "eventType"
	KeyEventDate        = "eventDate"
	KeyDateCreated      = "dateCreated"
	KeyDateEdited       = "dateEdited"
	KeyServerVersion    = "serverVersion"
	KeySyncStatus       = "syncStatus"
)

// Client is a client record as read back from the store. Payload is the full
// opaque document; the named fields are the extracted metadata columns.
type Client struct {
	BaseEntityID     string
	SyncStatus       SyncStatus
	ValidationStatus ValidationStatus
	UpdatedAt        time.Time
	RowSeq           int64
	Payload          json.RawMessage
}

// Event is an event record as read back from the store.
type Event struct {
	EventID          string
	BaseEntityID     string
	FormSubmissionID string
	EventType        string
	SyncStatus       SyncStatus
	ValidationStatus ValidationStatus
	ServerVersion    int64
	UpdatedAt        time.Time
	RowSeq           int64
	Payload          json.RawMessage
}

// EventClient pairs an event with its owning client, when one exists.
// This is the unit handed to record processors after a pull.
type EventClient struct {
	Event  Event
	Client *Client
}

// RecordBatch is the body of a push request and the shape a pull response is
// applied from: two parallel arrays of opaque record documents.
type RecordBatch struct {
	Clients []json.RawMessage `json:"clients,omitempty"`
	Events  []json.RawMessage `json:"events,omitempty"`
}

// Empty reports whether the batch carries no records at all.
func (b RecordBatch) Empty() bool {
	return len(b.Clients) == 0 && len(b.Events) == 0
}

// PullResponse is the server reply to a sync fetch. NoOfEvents drives the
// pull state machine: 0 means drained, negative or absent means malformed.
type PullResponse struct {
	NoOfEvents int               `json:"no_of_events"`
	Events     []json.RawMessage `json:"events"`
	Clients    []json.RawMessage `json:"clients"`
}

// ValidateRequest asks the server to re-validate previously accepted records.
type ValidateRequest struct {
	Clients []string `json:"clients,omitempty"`
	Events  []string `json:"events,omitempty"`
}

// ValidateResponse lists the ids the server now considers invalid; everything
// submitted but not listed is implicitly valid.
type ValidateResponse struct {
	Clients []string `json:"clients"`
	Events  []string `json:"events"`
}

// FetchStatus is the progress or terminal signal a sync cycle broadcasts to
// listeners.
type FetchStatus string

const (
	FetchStarted   FetchStatus = "fetchStarted"
	Fetched        FetchStatus = "fetched"
	NothingFetched FetchStatus = "nothingFetched"
	FetchedFailed  FetchStatus = "fetchedFailed"
	NoConnection   FetchStatus = "noConnection"
)

// ValidationOutcome is the result signal of a validation run.
type ValidationOutcome string

const (
	ValidationNothing ValidationOutcome = "nothing"
	ValidationSuccess ValidationOutcome = "success"
	ValidationFailed  ValidationOutcome = "failed"
)

// SyncStatusReport is the backlog summary surfaced to host-facing code
// without materializing record lists.
type SyncStatusReport struct {
	UnsyncedClients int        `json:"unsynced_clients"`
	UnsyncedEvents  int        `json:"unsynced_events"`
	InvalidClients  int        `json:"invalid_clients"`
	InvalidEvents   int        `json:"invalid_events"`
	TotalClients    int        `json:"total_clients"`
	TotalEvents     int        `json:"total_events"`
	Watermark       int64      `json:"last_server_version"`
	LastCheckAt     *time.Time `json:"last_check_at,omitempty"`
}
