// Package export renders documents to HTML and PDF.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// ValidFormat reports whether f is a supported export format.
func ValidFormat(f Format) bool {
	return f == FormatPDF || f == FormatHTML
}

// Document carries everything the renderer needs. The caller resolves
// versions and permissions before handing the document over.
type Document struct {
	ID        string
	Title     string
	Content   string
	Status    string
	Tags      []string
	Author    string
	Version   int
	UpdatedAt time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
