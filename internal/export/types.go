// Package export renders a share snapshot as a PDF via headless Chrome and
// optionally archives the result to object storage.
package export

import (
	"errors"
	"time"
)

// Request contains parameters for a snapshot export.
type Request struct {
	CustomerName  string
	RecipientName string
	SectionKeys   []string
	SectionLabels map[string]string
	Forms         map[string]any
	GeneratedAt   time.Time
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
