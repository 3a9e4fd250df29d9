package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/starford/ansuz/internal/glm"
)

// ChatHandler answers questions over the note collection through the GLM
// chat API, optionally grounding the reply in retrieved note passages.
type ChatHandler struct {
	client          *glm.Client
	knowledgeBaseID string
	model           string
}

// NewChatHandler creates a ChatHandler. knowledgeBaseID may be empty, in
// which case retrieval is silently skipped.
func NewChatHandler(client *glm.Client, knowledgeBaseID, model string) *ChatHandler {
	return &ChatHandler{client: client, knowledgeBaseID: knowledgeBaseID, model: model}
}

func (h *ChatHandler) available() bool { return h.client != nil }

// decodeChat reads and validates the shared chat request body.
func decodeChat(w http.ResponseWriter, r *http.Request) (*ChatRequestBody, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ChatRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return nil, false
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("messages are required"))
		return nil, false
	}
	return &req, true
}

// buildMessages converts the API conversation to GLM messages, prepending a
// context turn built from retrieved note passages when requested.
func (h *ChatHandler) buildMessages(r *http.Request, req *ChatRequestBody) []glm.ChatMessage {
	msgs := make([]glm.ChatMessage, 0, len(req.Messages)+1)

	if req.UseRetrieval && h.knowledgeBaseID != "" {
		query := req.Messages[len(req.Messages)-1].Content
		chunks, err := h.client.Retrieve(r.Context(), glm.RetrieveRequest{
			Query:        query,
			KnowledgeIDs: []string{h.knowledgeBaseID},
			RecallMethod: "mix",
			TopK:         5,
		})
		if err != nil {
			slog.Warn("chat retrieval failed, answering without context",
				slog.String("error", err.Error()))
		} else if len(chunks) > 0 {
			var sb strings.Builder
			sb.WriteString("Use the following note excerpts to answer:\n")
			for _, c := range chunks {
				fmt.Fprintf(&sb, "\n- %s\n", c.Text)
			}
			msgs = append(msgs, glm.ChatMessage{Role: "system", Content: sb.String()})
		}
	}

	for _, m := range req.Messages {
		msgs = append(msgs, glm.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return msgs
}

// Chat handles POST /api/chat (blocking completion).
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	if !h.available() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("chat is not configured"))
		return
	}
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}

	resp, err := h.client.ChatCompletion(r.Context(), glm.ChatRequest{
		Model:    h.model,
		Messages: h.buildMessages(r, req),
	})
	if err != nil {
		slog.Error("chat completion failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorBody("chat backend error"))
		return
	}
	if len(resp.Choices) == 0 {
		writeJSON(w, http.StatusBadGateway, errorBody("chat backend returned no choices"))
		return
	}
	writeJSON(w, http.StatusOK, ChatResponseBody{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
	})
}

// ChatStream handles POST /api/chat/stream. Deltas from the upstream stream
// are relayed to the client as SSE data frames, terminated by [DONE], the
// same wire format the upstream speaks.
func (h *ChatHandler) ChatStream(w http.ResponseWriter, r *http.Request) {
	if !h.available() {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("chat is not configured"))
		return
	}
	req, ok := decodeChat(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeJSON(w, http.StatusInternalServerError, errorBody("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err := h.client.ChatCompletionStream(r.Context(), glm.ChatRequest{
		Model:    h.model,
		Messages: h.buildMessages(r, req),
		Stream:   true,
	}, func(delta string) error {
		payload, err := json.Marshal(map[string]string{"delta": delta})
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// Headers are already out; surface the failure in-band so clients
		// can tell a broken stream from a complete one.
		slog.Error("chat stream failed", slog.String("error", err.Error()))
		payload, _ := json.Marshal(map[string]string{"error": "chat backend error"})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
		return
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
