// Package ingest orchestrates document ingestion: tabular batches and policy
// document uploads on the synchronous path, and queued upsert/delete messages
// on the asynchronous path. Both paths share the same core: normalize the
// input into a document record, persist it, then attach an embedding with a
// second write.
package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/docq-ai/docq-go/internal/docstore"
	"github.com/docq-ai/docq-go/internal/normalize"
)

// Action is the operation an ingestion message requests.
type Action string

const (
	// ActionUpsert writes (or overwrites) a document record.
	ActionUpsert Action = "upsert"
	// ActionDelete removes a document record by id and partition key.
	ActionDelete Action = "delete"
)

// DefaultVersion is the version tag applied when the envelope carries none.
// Informational only; no versioning behavior hangs off it.
const DefaultVersion = "latest"

// MissingFieldError is returned when an ingestion envelope lacks a field the
// operation cannot proceed without.
type MissingFieldError struct {
	// Field is the missing field name.
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("ingest: missing required field %q: include it at top-level or inside 'data'", e.Field)
}

// InvalidActionError is returned when an envelope names an unknown action.
type InvalidActionError struct {
	// Action is the rejected action value.
	Action string
}

func (e *InvalidActionError) Error() string {
	return fmt.Sprintf("ingest: invalid action %q: use 'upsert' or 'delete'", e.Action)
}

// Message is the ingestion envelope exchanged over the queue.
// Data carries the document payload for upserts; arbitrary unknown fields in
// it are dropped on write (the record schema is fixed, see docstore.Document).
type Message struct {
	// ID is the message and document identifier.
	ID string `json:"id"`
	// Action is upsert or delete. Empty means upsert.
	Action Action `json:"action"`
	// Version is an informational tag copied onto the record.
	Version string `json:"version"`
	// UserID is the partition key, duplicated at top level for the consumer.
	UserID string `json:"userId"`
	// Data is the document payload.
	Data map[string]any `json:"data,omitempty"`
}

// BuildMessage validates a raw ingestion envelope and returns the normalized
// message ready to enqueue.
//
// Rules, matching the consumer's expectations:
//   - action defaults to upsert; anything else but delete is rejected
//   - the id comes from the envelope, then data, then is generated, except
//     that a delete must name an explicit id
//   - userId must resolve from the envelope or data, and is injected into
//     data so the consumer can write it to the store
func BuildMessage(raw []byte, newID normalize.IDGenerator) (*Message, error) {
	if newID == nil {
		newID = normalize.NewID
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("ingest: invalid JSON envelope: %w", err)
	}
	if msg.Data == nil {
		msg.Data = make(map[string]any)
	}

	switch msg.Action {
	case "":
		msg.Action = ActionUpsert
	case ActionUpsert, ActionDelete:
	default:
		return nil, &InvalidActionError{Action: string(msg.Action)}
	}

	if msg.Version == "" {
		msg.Version = DefaultVersion
	}

	dataID, _ := msg.Data["id"].(string)
	if msg.Action == ActionDelete && msg.ID == "" && dataID == "" {
		return nil, &MissingFieldError{Field: "id"}
	}
	if msg.ID == "" {
		msg.ID = dataID
	}
	if msg.ID == "" {
		msg.ID = newID()
	}

	if msg.UserID == "" {
		msg.UserID, _ = msg.Data["userId"].(string)
	}
	if msg.UserID == "" {
		return nil, &MissingFieldError{Field: "userId"}
	}
	// The consumer writes data as the record, so the partition key must
	// travel with it.
	msg.Data["userId"] = msg.UserID

	return &msg, nil
}

// document converts the message's data payload into a document record via
// the same normalization rules as tabular rows: missing titles and content
// are synthesized, unknown payload fields are dropped. The envelope's id,
// version, and userId win over the payload's.
func (m *Message) document() (*docstore.Document, error) {
	id := m.ID
	if id == "" {
		id, _ = m.Data["id"].(string)
	}
	if id == "" {
		return nil, &MissingFieldError{Field: "id"}
	}

	doc, err := normalize.FromPayload(m.Data, m.UserID, func() string { return id })
	if err != nil {
		return nil, &MissingFieldError{Field: "userId"}
	}
	doc.ID = id
	doc.Version = m.Version
	return doc, nil
}
