package glm

import "fmt"

// APIError is a non-success response from the open-platform envelope.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("glm: api error %d: %s", e.Code, e.Message)
}

// KnowledgeBaseRequest creates a knowledge base.
type KnowledgeBaseRequest struct {
	EmbeddingID int    `json:"embedding_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Background  string `json:"background,omitempty"` // blue, red, orange, purple, sky, green, yellow
	Icon        string `json:"icon,omitempty"`       // question, book, seal, wrench, tag, horn, house
}

type knowledgeBaseResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *struct {
		ID string `json:"id"`
	} `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// UploadSuccess identifies one successfully ingested file.
type UploadSuccess struct {
	DocumentID string `json:"documentId"`
	FileName   string `json:"fileName"`
}

// UploadFailure reports one rejected file.
type UploadFailure struct {
	FileName   string `json:"fileName"`
	FailReason string `json:"failReason"`
}

type uploadResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		SuccessInfos []UploadSuccess `json:"successInfos"`
		FailedInfos  []UploadFailure `json:"failedInfos"`
	} `json:"data"`
}

type statusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RetrieveRequest queries a knowledge base.
type RetrieveRequest struct {
	Query               string   `json:"query"`
	KnowledgeIDs        []string `json:"knowledge_ids"`
	RequestID           string   `json:"request_id,omitempty"`
	DocumentIDs         []string `json:"document_ids,omitempty"`
	TopK                int      `json:"top_k,omitempty"`
	TopN                int      `json:"top_n,omitempty"`
	RecallMethod        string   `json:"recall_method"`
	RecallRatio         float64  `json:"recall_ratio,omitempty"`
	RerankStatus        int      `json:"rerank_status,omitempty"`
	RerankModel         string   `json:"rerank_model,omitempty"`
	FractionalThreshold float64  `json:"fractional_threshold,omitempty"`
}

// RetrieveChunk is one retrieved passage with its relevance score.
type RetrieveChunk struct {
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Metadata struct {
		ID             string `json:"_id"`
		KnowledgeID    string `json:"knowledge_id"`
		DocID          string `json:"doc_id"`
		DocName        string `json:"doc_name"`
		DocURL         string `json:"doc_url"`
		ContextualText string `json:"contextual_text,omitempty"`
	} `json:"metadata"`
}

type retrieveResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    []RetrieveChunk `json:"data"`
}

// ChatMessage is one turn in a chat conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat-completions request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	RequestID   string        `json:"request_id,omitempty"`
}

// ChatChoice is one completion alternative.
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// ChatUsage reports token accounting for a completion.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is a non-streaming chat completion.
type ChatResponse struct {
	ID      string       `json:"id"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   ChatUsage    `json:"usage"`
}

// streamChunk is one SSE frame of a streaming completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}
