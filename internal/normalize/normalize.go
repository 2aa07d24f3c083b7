// Package normalize derives a uniform document record from one heterogeneous
// tabular row. Uploaded spreadsheets carry arbitrary columns; this package
// fills in the identity, owner, title, and content fields deterministically
// so the rest of the pipeline only ever sees complete records.
package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/docq-ai/docq-go/internal/docstore"
	"github.com/docq-ai/docq-go/internal/tabular"
)

// MissingOwnerError is returned when a row resolves no owner: it has no
// userId cell and the caller supplied no default. The owner is the store's
// partition key, so the row cannot be written.
type MissingOwnerError struct {
	// RowID is the id (explicit or generated) of the row that failed.
	RowID string
}

func (e *MissingOwnerError) Error() string {
	return fmt.Sprintf("normalize: row %q is missing 'userId': add a userId column or supply a default owner", e.RowID)
}

// IDGenerator produces a fresh unique record identifier. Tests inject a
// deterministic generator; production uses NewID.
type IDGenerator func() string

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

// FromRow normalizes one tabular row into a document record.
//
// Field resolution, first defined wins:
//
//	id      = "id" cell, else a generated identifier
//	userId  = "userId" cell, else defaultUserID, else *MissingOwnerError
//	title   = "title" cell, else "Record {id}"
//	content = "content" cell, else "{column}: {value}" lines for every
//	          defined cell except userId, in column order
//
// Given identical input and a fixed IDGenerator the output is byte-identical.
func FromRow(row tabular.Row, defaultUserID string, newID IDGenerator) (*docstore.Document, error) {
	if newID == nil {
		newID = NewID
	}

	id, ok := row.Get("id")
	if !ok {
		id = newID()
	}

	userID, ok := row.Get("userId")
	if !ok {
		userID = defaultUserID
	}
	if userID == "" {
		return nil, &MissingOwnerError{RowID: id}
	}

	title, ok := row.Get("title")
	if !ok {
		title = fmt.Sprintf("Record %s", id)
	}

	content, ok := row.Get("content")
	if !ok {
		content = synthesizeContent(row)
	}

	return &docstore.Document{
		ID:           id,
		UserID:       userID,
		DocumentType: docstore.TypeCSVData,
		Title:        title,
		Content:      content,
	}, nil
}

// payloadMetaKeys are payload fields that map onto record metadata rather
// than content, excluded from content synthesis.
var payloadMetaKeys = map[string]bool{
	"id":           true,
	"userId":       true,
	"title":        true,
	"documentType": true,
	"sourceFile":   true,
	"fileName":     true,
	"version":      true,
	"uploadedAt":   true,
	"embedding":    true,
}

// FromPayload normalizes an ingestion-message data object into a document
// record, with the same field resolution as FromRow. Content synthesis uses
// the non-metadata payload fields in sorted key order, since a JSON object
// carries no column order.
func FromPayload(data map[string]any, defaultUserID string, newID IDGenerator) (*docstore.Document, error) {
	if newID == nil {
		newID = NewID
	}

	id := stringField(data, "id")
	if id == "" {
		id = newID()
	}

	userID := stringField(data, "userId")
	if userID == "" {
		userID = defaultUserID
	}
	if userID == "" {
		return nil, &MissingOwnerError{RowID: id}
	}

	title := stringField(data, "title")
	if title == "" {
		title = fmt.Sprintf("Record %s", id)
	}

	content := stringField(data, "content")
	if content == "" {
		content = synthesizePayloadContent(data)
	}

	docType := docstore.TypeCSVData
	if stringField(data, "documentType") == string(docstore.TypePolicyDocument) {
		docType = docstore.TypePolicyDocument
	}

	return &docstore.Document{
		ID:           id,
		UserID:       userID,
		DocumentType: docType,
		Title:        title,
		Content:      content,
		SourceFile:   stringField(data, "sourceFile"),
		FileName:     stringField(data, "fileName"),
	}, nil
}

// stringField returns the named payload field as a trimmed string, or ""
// when absent, non-string, or blank.
func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return strings.TrimSpace(s)
}

// synthesizePayloadContent joins the non-metadata payload fields as
// "{key}: {value}" lines in sorted key order.
func synthesizePayloadContent(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if payloadMetaKeys[k] || k == "content" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		v := data[k]
		if v == nil {
			continue
		}
		text := strings.TrimSpace(fmt.Sprint(v))
		if text == "" {
			continue
		}
		lines = append(lines, k+": "+text)
	}
	return strings.Join(lines, "\n")
}

// synthesizeContent joins every defined cell except userId as
// "{column}: {value}" lines, preserving the row's column order.
func synthesizeContent(row tabular.Row) string {
	var lines []string
	for _, col := range row.Columns {
		if col == "userId" {
			continue
		}
		value, ok := row.Get(col)
		if !ok {
			continue
		}
		lines = append(lines, col+": "+value)
	}
	return strings.Join(lines, "\n")
}
