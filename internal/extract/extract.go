// Package extract converts uploaded binary documents (PDF, DOCX, TXT) into
// plain text for ingestion. It deals only in bytes-in, text-out: rejecting
// empty results and deciding what to persist is the caller's job.
package extract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fumiama/go-docx"
	"github.com/ledongthuc/pdf"
)

// UnsupportedTypeError is returned when the file extension is not one of the
// supported document types. It is raised before any parsing is attempted.
type UnsupportedTypeError struct {
	// Ext is the rejected file extension, including the dot.
	Ext string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("extract: unsupported file type %q (supported: .txt, .pdf, .docx, .doc)", e.Ext)
}

// ExtractionError is returned when a supported file cannot be parsed.
type ExtractionError struct {
	// File is the name of the file that failed to parse.
	File string
	// Err is the underlying parser error.
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: failed to extract text from %s: %v", e.File, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Supported reports whether the filename's extension is an extractable
// document type.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".pdf", ".docx", ".doc":
		return true
	}
	return false
}

// Text extracts the plain text content of the named file. The extension
// selects the parser; an unsupported extension fails with
// *UnsupportedTypeError before any bytes are inspected.
//
// The result may be empty or whitespace-only; callers decide whether a
// content-less file is an error.
func Text(filename string, data []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return textFromPlain(data), nil
	case ".pdf":
		return textFromPDF(filename, data)
	case ".docx", ".doc":
		return textFromDocx(filename, data)
	default:
		return "", &UnsupportedTypeError{Ext: strings.ToLower(filepath.Ext(filename))}
	}
}

// textFromPlain decodes the bytes as UTF-8, dropping undecodable bytes
// rather than failing.
func textFromPlain(data []byte) string {
	return strings.ToValidUTF8(string(data), "")
}

// textFromPDF concatenates the extracted text of every page in page order,
// joined with newlines. Pages that fail individually are skipped so one
// malformed page does not lose the rest of the document.
func textFromPDF(filename string, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ExtractionError{File: filename, Err: err}
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}

	return strings.Join(pages, "\n"), nil
}

// textFromDocx concatenates paragraph text in document order, joined with
// newlines.
func textFromDocx(filename string, data []byte) (string, error) {
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ExtractionError{File: filename, Err: err}
	}

	var paragraphs []string
	for _, item := range doc.Document.Body.Items {
		if p, ok := item.(*docx.Paragraph); ok {
			paragraphs = append(paragraphs, p.String())
		}
	}

	return strings.Join(paragraphs, "\n"), nil
}
