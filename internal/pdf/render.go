// Package pdf renders notes into single-page A4 PDF documents for upload
// into the remote knowledge base.
package pdf

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/starford/ansuz/internal/apperr"
)

// Page geometry in points, matching the historical renderer.
const (
	margin          = 40.0
	titleFontSize   = 24.0
	titleLineHeight = 30.0
	bodyFontSize    = 14.0
	bodyLineHeight  = 20.0 // 14pt glyphs + 6pt line spacing
	titleBodyGap    = 20.0
)

// Files persists rendered documents. Satisfied by *attachments.Manager.
type Files interface {
	SavePDF(filename string, data []byte) error
}

// Renderer produces PDF renderings of notes.
type Renderer struct {
	files Files
}

// NewRenderer creates a renderer that persists output through files.
func NewRenderer(files Files) *Renderer {
	return &Renderer{files: files}
}

// Filename returns the deterministic PDF filename for a note id.
func Filename(noteID string) string {
	return "note_" + noteID + ".pdf"
}

// Render produces the PDF bytes for a note: bold wrapped title at the top,
// body text below in the remaining space. The output is deterministic for a
// given title and content apart from the embedded generation timestamp.
// An empty body still renders a valid document.
func (r *Renderer) Render(title, content string) ([]byte, error) {
	doc := fpdf.New("P", "pt", "A4", "")
	doc.SetTitle(title, true)
	doc.SetCreator("Ansuz", true)
	doc.SetAutoPageBreak(false, margin)
	doc.AddPage()

	tr := doc.UnicodeTranslatorFromDescriptor("")
	pageW, _ := doc.GetPageSize()
	textW := pageW - 2*margin

	doc.SetXY(margin, margin)
	doc.SetFont("Helvetica", "B", titleFontSize)
	doc.MultiCell(textW, titleLineHeight, tr(title), "", "L", false)

	doc.SetXY(margin, doc.GetY()+titleBodyGap)
	doc.SetFont("Helvetica", "", bodyFontSize)
	if content != "" {
		doc.MultiCell(textW, bodyLineHeight, tr(content), "", "L", false)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf: encode: %v: %w", err, apperr.ErrRenderFailure)
	}
	return buf.Bytes(), nil
}

// Generate renders a note and persists it as note_<id>.pdf, returning the
// filename. Encode failures are render failures with no file written; write
// failures likewise leave nothing behind.
func (r *Renderer) Generate(noteID, title, content string) (string, error) {
	data, err := r.Render(title, content)
	if err != nil {
		return "", err
	}
	name := Filename(noteID)
	if err := r.files.SavePDF(name, data); err != nil {
		return "", err
	}
	return name, nil
}
