// Package export renders a confirmed submission to PDF or DOCX for the
// user's records.
package export

import "errors"

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Field is one answered question, in catalog order.
type Field struct {
	Title string
	Value string
}

// AttachmentLine is one uploaded file listed on the export.
type AttachmentLine struct {
	Category string
	Name     string
}

// Submission is the content of one export.
type Submission struct {
	FormTitle   string
	OrderID     string
	UserID      string
	Fields      []Field
	Attachments []AttachmentLine
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
