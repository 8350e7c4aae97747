package export

import "fmt"

// Export renders a submission in the requested format.
func Export(sub Submission, format Format) (*Result, error) {
	html, err := RenderSubmissionHTML(sub)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatPDF:
		return exportPDF(html, sub.FormTitle)
	case FormatDOCX:
		return exportDOCX(html, sub.FormTitle)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
