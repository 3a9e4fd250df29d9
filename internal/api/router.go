package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Deps bundles everything the router mounts.
type Deps struct {
	Notes       *Handler
	Attachments *AttachmentHandler
	Chat        *ChatHandler
	Knowledge   *KnowledgeHandler
	SSE         http.Handler // optional live-update endpoint
}

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
func NewRouter(d Deps, authEnabled bool, token string) chi.Router {
	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes CRUD.
	r.Get("/notes", d.Notes.ListNotes)
	r.Post("/notes", d.Notes.CreateNote)
	r.Get("/notes/{id}", d.Notes.GetNote)
	r.Put("/notes/{id}", d.Notes.UpdateNote)
	r.Delete("/notes/{id}", d.Notes.DeleteNote)

	// Search.
	r.Get("/search", d.Notes.Search)

	// Attachments.
	r.Post("/attachments", d.Attachments.Upload)
	r.Get("/attachments/{filename}", d.Attachments.ServeFile)

	// Assistant.
	if d.Chat != nil {
		r.Post("/chat", d.Chat.Chat)
		r.Post("/chat/stream", d.Chat.ChatStream)
	}
	if d.Knowledge != nil {
		r.Post("/knowledge", d.Knowledge.Create)
	}

	// SSE endpoint (protected by same auth middleware).
	if d.SSE != nil {
		r.Get("/events", d.SSE.ServeHTTP)
	}

	return r
}
