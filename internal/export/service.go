package export

import (
	"fmt"
	"html/template"
)

// Service renders documents into downloadable exports.
type Service struct{}

// NewService creates a new export service
func NewService() *Service {
	return &Service{}
}

// Export renders the document in the requested format.
func (s *Service) Export(doc Document, format Format) (*Result, error) {
	data := TemplateData{
		Title:       doc.Title,
		ContentHTML: template.HTML(TextToHTML(doc.Content)),
		Author:      doc.Author,
		Status:      doc.Status,
		Version:     doc.Version,
		Tags:        doc.Tags,
		UpdatedAt:   doc.UpdatedAt,
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(doc.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, doc.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
