// Package pdf defines the rendering contract for completed-contract
// documents. Implementations wrap an external HTML-to-PDF engine and live
// outside this service's core.
package pdf

import "context"

// Document is a rendered PDF.
type Document struct {
	Content  []byte
	FileName string
	Size     int64
}

// ContentType returns the MIME type for storage and mail attachments.
func (Document) ContentType() string { return "application/pdf" }

// Generator renders a contract's HTML into a PDF document.
type Generator interface {
	GenerateFromHTML(ctx context.Context, html, fileName string) (Document, error)
}
