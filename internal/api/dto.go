package api

import (
	"github.com/starford/ansuz/internal/models"
)

// CreateNoteRequest is the request body for creating a note.
type CreateNoteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UpdateNoteRequest is the request body for updating a note. Nil fields are
// left untouched so clients can patch a single attribute.
type UpdateNoteRequest struct {
	Title           *string `json:"title"`
	Content         *string `json:"content"`
	ThemeColorIndex *int    `json:"themeColorIndex"`
}

// NoteListResponse wraps a note listing.
type NoteListResponse struct {
	Notes []models.Note `json:"notes"`
	Total int           `json:"total"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// AttachmentUploadResponse is returned after a successful image upload. The
// URL resolves against the server root (the API router mounts under /api);
// the markdown field is ready to paste into a note body.
type AttachmentUploadResponse struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Markdown string `json:"markdown"`
}

// ChatRequestBody is the request body for both chat endpoints.
type ChatRequestBody struct {
	Messages     []ChatMessage `json:"messages"`
	UseRetrieval bool          `json:"useRetrieval"`
}

// ChatMessage is one conversation turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponseBody is the blocking chat reply.
type ChatResponseBody struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// KnowledgeBaseRequestBody is the request body for creating a knowledge base.
type KnowledgeBaseRequestBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// KnowledgeBaseResponse carries the id of a freshly created knowledge base.
type KnowledgeBaseResponse struct {
	ID string `json:"id"`
}
