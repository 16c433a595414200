package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// HTTPRenderer calls a Gotenberg-compatible rendering service. The request
// is a multipart form carrying the HTML as index.html, the response body is
// the PDF.
type HTTPRenderer struct {
	url    string
	client *http.Client
}

// NewHTTPRenderer creates a renderer against the given conversion endpoint.
func NewHTTPRenderer(url string, timeout time.Duration) *HTTPRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRenderer{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// GenerateFromHTML renders the HTML into a PDF document.
func (r *HTTPRenderer) GenerateFromHTML(ctx context.Context, html, fileName string) (Document, error) {
	var form bytes.Buffer
	writer := multipart.NewWriter(&form)

	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return Document{}, fmt.Errorf("pdf: build form: %w", err)
	}
	if _, err := io.WriteString(part, html); err != nil {
		return Document{}, fmt.Errorf("pdf: write html: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Document{}, fmt.Errorf("pdf: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, &form)
	if err != nil {
		return Document{}, fmt.Errorf("pdf: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("pdf: render request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Document{}, fmt.Errorf("pdf: renderer returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return Document{}, fmt.Errorf("pdf: read response: %w", err)
	}

	return Document{
		Content:  content,
		FileName: fileName,
		Size:     int64(len(content)),
	}, nil
}
