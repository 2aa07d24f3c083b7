package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteStore is a Store backed by a local SQLite database. It mirrors the
// Cosmos container schema closely enough for local development and tests:
// (id, user_id) is the composite key and the embedding is stored as JSON.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLiteStore at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func OpenSQLite(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id          TEXT NOT NULL,
    user_id     TEXT NOT NULL,
    doc_type    TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL DEFAULT '',
    content     TEXT NOT NULL DEFAULT '',
    source_file TEXT NOT NULL DEFAULT '',
    file_name   TEXT NOT NULL DEFAULT '',
    version     TEXT NOT NULL DEFAULT '',
    uploaded_at TEXT NOT NULL DEFAULT '',
    embedding   TEXT,  -- JSON array of floats, NULL until embedded
    PRIMARY KEY (id, user_id)
);
CREATE INDEX IF NOT EXISTS idx_documents_user_type
    ON documents (user_id, doc_type);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// Upsert inserts or overwrites a document keyed by (id, user_id).
func (s *SQLiteStore) Upsert(ctx context.Context, doc *Document) error {
	if doc.UserID == "" {
		return ErrMissingPartitionKey
	}

	var embedding sql.NullString
	if len(doc.Embedding) > 0 {
		data, err := json.Marshal(doc.Embedding)
		if err != nil {
			return fmt.Errorf("sqlite: marshal embedding for %s: %w", doc.ID, err)
		}
		embedding = sql.NullString{String: string(data), Valid: true}
	}

	const q = `
INSERT INTO documents (id, user_id, doc_type, title, content, source_file, file_name, version, uploaded_at, embedding)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id, user_id) DO UPDATE SET
    doc_type    = excluded.doc_type,
    title       = excluded.title,
    content     = excluded.content,
    source_file = excluded.source_file,
    file_name   = excluded.file_name,
    version     = excluded.version,
    uploaded_at = excluded.uploaded_at,
    embedding   = excluded.embedding`

	_, err := s.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, string(doc.DocumentType), doc.Title, doc.Content,
		doc.SourceFile, doc.FileName, doc.Version, doc.UploadedAt, embedding,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert %s: %w", doc.ID, err)
	}
	return nil
}

// Delete removes the document with the given id and partition key.
// A missing record is a no-op success.
func (s *SQLiteStore) Delete(ctx context.Context, id, userID string) error {
	const q = `DELETE FROM documents WHERE id = ? AND user_id = ?`
	if _, err := s.db.ExecContext(ctx, q, id, userID); err != nil {
		return fmt.Errorf("sqlite: delete %s: %w", id, err)
	}
	return nil
}

// QueryEmbedded returns every document for userID that has an embedding,
// in insertion order.
func (s *SQLiteStore) QueryEmbedded(ctx context.Context, userID string) ([]Document, error) {
	const q = `
SELECT id, user_id, doc_type, title, content, source_file, file_name, version, uploaded_at, embedding
FROM   documents
WHERE  user_id = ? AND embedding IS NOT NULL
ORDER  BY rowid`

	rows, err := s.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query embedded documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: query embedded rows: %w", err)
	}
	return docs, nil
}

// DeleteByType removes all documents of the given type for userID.
// Rows with an empty doc_type are legacy tabular records and match csvData.
func (s *SQLiteStore) DeleteByType(ctx context.Context, userID string, docType DocumentType) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE user_id = ? AND `+sqliteTypeFilter(docType),
		userID, string(docType),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete by type %s: %w", docType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: delete by type rows affected: %w", err)
	}
	return int(n), nil
}

// ListFiles returns the distinct originating filenames for the user's
// documents of the given type, in insertion order.
func (s *SQLiteStore) ListFiles(ctx context.Context, userID string, docType DocumentType) ([]string, error) {
	q := `
SELECT source_file, file_name
FROM   documents
WHERE  user_id = ? AND ` + sqliteTypeFilter(docType) + `
ORDER  BY rowid`

	rows, err := s.db.QueryContext(ctx, q, userID, string(docType))
	if err != nil {
		return nil, fmt.Errorf("sqlite: list files: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var files []string
	for rows.Next() {
		var sourceFile, fileName string
		if err := rows.Scan(&sourceFile, &fileName); err != nil {
			return nil, fmt.Errorf("sqlite: list files scan: %w", err)
		}
		name := sourceFile
		if name == "" {
			name = fileName
		}
		if name != "" && !seen[name] {
			seen[name] = true
			files = append(files, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list files rows: %w", err)
	}
	return files, nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite: ping: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// sqliteTypeFilter returns the WHERE fragment matching a document type,
// with one positional parameter for the type value.
func sqliteTypeFilter(docType DocumentType) string {
	if docType == TypeCSVData {
		return `(doc_type = '' OR doc_type = ?)`
	}
	return `doc_type = ?`
}

// scanDocument reads one documents row into a Document.
func scanDocument(rows *sql.Rows) (Document, error) {
	var doc Document
	var docType string
	var embedding sql.NullString

	if err := rows.Scan(&doc.ID, &doc.UserID, &docType, &doc.Title, &doc.Content,
		&doc.SourceFile, &doc.FileName, &doc.Version, &doc.UploadedAt, &embedding); err != nil {
		return Document{}, fmt.Errorf("sqlite: scan document: %w", err)
	}
	doc.DocumentType = DocumentType(docType)

	if embedding.Valid && embedding.String != "" {
		if err := json.Unmarshal([]byte(embedding.String), &doc.Embedding); err != nil {
			return Document{}, fmt.Errorf("sqlite: decode embedding for %s: %w", doc.ID, err)
		}
	}
	return doc, nil
}
