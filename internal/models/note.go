// Package models defines the domain types for Ansuz.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Palette is the fixed set of display colors a note can be themed with.
// ThemeColorIndex resolves into it via modulo, so out-of-range stored
// values remain displayable.
var Palette = []string{
	"#FEE2E2", // soft red
	"#FEF3C7", // warm yellow
	"#D1FAE5", // mint
	"#DBEAFE", // ice blue
	"#EDE9FE", // taro
	"#F3F4F6", // silver
}

// ThemeUnassigned marks a record that predates the theme color field.
// Migrate replaces it with a random palette index; it never survives a load.
const ThemeUnassigned = -1

// Note is the durable unit of user content.
//
// The JSON keys match the historical collection file format, so data files
// written by older clients decode unchanged.
type Note struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	Content             string    `json:"content"`
	CreatedAt           LocalTime `json:"createdAt"`
	UpdatedAt           LocalTime `json:"updatedAt"`
	RemoteDocumentID    string    `json:"knowledgeDocumentId,omitempty"`
	AttachmentFilenames []string  `json:"imageAttachmentNames"`
	PDFFilename         string    `json:"notePDFName,omitempty"`
	ThemeColorIndex     int       `json:"themeColorIndex"`
}

// New creates an empty note with a fresh id and both timestamps set to now.
func New(title, content string) Note {
	now := Now()
	return Note{
		ID:                  uuid.New().String(),
		Title:               title,
		Content:             content,
		CreatedAt:           now,
		UpdatedAt:           now,
		AttachmentFilenames: []string{},
	}
}

// Touch bumps the modification timestamp.
func (n *Note) Touch() {
	n.UpdatedAt = Now()
}

// ThemeColor resolves the theme index into the palette.
func (n Note) ThemeColor() string {
	idx := n.ThemeColorIndex
	if idx < 0 {
		idx = 0
	}
	return Palette[idx%len(Palette)]
}

// UnmarshalJSON decodes a note while distinguishing an absent theme color
// from index zero. Decoding itself stays deterministic; filling in defaults
// is Migrate's job.
func (n *Note) UnmarshalJSON(data []byte) error {
	type alias Note
	aux := struct {
		*alias
		ThemeColorIndex *int `json:"themeColorIndex"`
	}{alias: (*alias)(n)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.ThemeColorIndex == nil {
		n.ThemeColorIndex = ThemeUnassigned
	} else {
		n.ThemeColorIndex = *aux.ThemeColorIndex
	}
	if n.AttachmentFilenames == nil {
		n.AttachmentFilenames = []string{}
	}
	return nil
}

// Migrate produces fully-populated records from freshly decoded ones.
// randInt(n) must return a value in [0, n); it is injectable so loads are
// deterministic under test.
func Migrate(notes []Note, randInt func(int) int) []Note {
	for i := range notes {
		if notes[i].ThemeColorIndex == ThemeUnassigned {
			notes[i].ThemeColorIndex = randInt(len(Palette))
		}
		if notes[i].AttachmentFilenames == nil {
			notes[i].AttachmentFilenames = []string{}
		}
		if notes[i].UpdatedAt.Before(notes[i].CreatedAt.Time) {
			notes[i].UpdatedAt = notes[i].CreatedAt
		}
	}
	return notes
}

// Now returns the current time truncated to whole seconds, matching the
// resolution of the collection file's date format.
func Now() LocalTime {
	return LocalTime{time.Now().Truncate(time.Second)}
}
