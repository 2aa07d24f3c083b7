// Package docstore defines the document record persisted for every ingested
// row or file, and the Store interface the ingestion and retrieval pipelines
// write and read through. Two backends are provided: Cosmos DB for production
// and SQLite for local development and tests.
package docstore

import "time"

// DocumentType partitions records by ingestion source.
type DocumentType string

const (
	// TypeCSVData marks records produced from tabular uploads (CSV/XLSX).
	TypeCSVData DocumentType = "csvData"
	// TypePolicyDocument marks records produced from binary document uploads
	// (PDF/DOCX/TXT).
	TypePolicyDocument DocumentType = "policyDocument"
)

// Document is the unit of storage. The JSON tags are the wire schema shared
// by the store, the queue messages, and the HTTP API.
//
// UserID is the mandatory partition key: every write is rejected without it,
// and every query filters by it; it is the sole tenant-isolation mechanism.
// Embedding is present only after a successful embedding call; its absence is
// the signal that excludes a record from retrieval.
type Document struct {
	// ID is unique within a partition. Generated when the source row has none.
	ID string `json:"id"`

	// UserID is the partition key. Mandatory on every write.
	UserID string `json:"userId"`

	// DocumentType is csvData or policyDocument. Empty on legacy records,
	// which queries treat as csvData.
	DocumentType DocumentType `json:"documentType,omitempty"`

	// Title is derived from the source data or defaulted to "Record {id}".
	Title string `json:"title,omitempty"`

	// Content is the retrievable text body.
	Content string `json:"content,omitempty"`

	// SourceFile is the originating filename for tabular uploads.
	SourceFile string `json:"sourceFile,omitempty"`

	// FileName is the originating filename for policy document uploads.
	FileName string `json:"fileName,omitempty"`

	// Embedding is the content vector. Present only after a successful
	// embedding call.
	Embedding []float32 `json:"embedding,omitempty"`

	// Version is an informational tag carried from the ingestion message.
	Version string `json:"version,omitempty"`

	// UploadedAt is an RFC3339 timestamp, set for policy documents.
	UploadedAt string `json:"uploadedAt,omitempty"`
}

// SourceName returns the best label for citing this document in an answer:
// sourceFile, then fileName, then title.
func (d *Document) SourceName() string {
	if d.SourceFile != "" {
		return d.SourceFile
	}
	if d.FileName != "" {
		return d.FileName
	}
	return d.Title
}

// StampUploadedAt sets UploadedAt to the current UTC time in RFC3339 format.
func (d *Document) StampUploadedAt() {
	d.UploadedAt = time.Now().UTC().Format(time.RFC3339)
}
