package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/starford/ansuz/internal/glm"
)

// KnowledgeHandler provisions remote knowledge bases.
type KnowledgeHandler struct {
	client      *glm.Client
	embeddingID int
}

// NewKnowledgeHandler creates a KnowledgeHandler.
func NewKnowledgeHandler(client *glm.Client, embeddingID int) *KnowledgeHandler {
	return &KnowledgeHandler{client: client, embeddingID: embeddingID}
}

// Create handles POST /api/knowledge. It creates a remote knowledge base
// and returns its id; the operator copies that id into the configuration
// to enable sync.
func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("remote sync is not configured"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req KnowledgeBaseRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("name is required"))
		return
	}

	id, err := h.client.CreateKnowledgeBase(r.Context(), glm.KnowledgeBaseRequest{
		Name:        req.Name,
		Description: req.Description,
		EmbeddingID: h.embeddingID,
	})
	if err != nil {
		slog.Error("create knowledge base failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("knowledge backend error"))
		return
	}
	writeJSON(w, http.StatusCreated, KnowledgeBaseResponse{ID: id})
}
