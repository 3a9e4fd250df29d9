// Package glm is a client for the GLM open platform: knowledge-base
// document management, retrieval, and chat completions.
package glm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the production endpoint of the open platform.
const DefaultBaseURL = "https://open.bigmodel.cn/api/"

// knowledgeType marks uploads as user-provided documents.
const knowledgeType = "1"

const (
	pathKnowledge = "llm-application/open/knowledge"
	pathUpload    = "llm-application/open/document/upload_document/"
	pathDocument  = "llm-application/open/document/"
	pathRetrieve  = "llm-application/open/knowledge/retrieve"
	pathChat      = "paas/v4/chat/completions"
)

// Client talks to the GLM open platform. Every request carries a freshly
// signed Authorization header.
type Client struct {
	baseURL string
	signer  *Signer
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a client. An empty baseURL selects the production
// endpoint; tests point it at a local server.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		baseURL: baseURL,
		signer:  NewSigner(apiKey),
		httpc:   &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

// CreateKnowledgeBase creates a knowledge base and returns its id.
func (c *Client) CreateKnowledgeBase(ctx context.Context, req KnowledgeBaseRequest) (string, error) {
	var resp knowledgeBaseResponse
	if err := c.postJSON(ctx, pathKnowledge, req, &resp); err != nil {
		return "", err
	}
	if resp.Code != http.StatusOK || resp.Data == nil {
		return "", &APIError{Code: resp.Code, Message: resp.Message}
	}
	return resp.Data.ID, nil
}

// UploadDocument sends file bytes as a multipart upload into the knowledge
// base and returns the new document id, taken from the first successful
// entry of the response.
func (c *Client) UploadDocument(ctx context.Context, knowledgeBaseID, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", filename)
	if err != nil {
		return "", fmt.Errorf("glm: build multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("glm: write multipart: %w", err)
	}
	if err := mw.WriteField("knowledge_type", knowledgeType); err != nil {
		return "", fmt.Errorf("glm: write field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("glm: close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathUpload+knowledgeBaseID, &body)
	if err != nil {
		return "", fmt.Errorf("glm: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", c.signer.Authorization())

	var resp uploadResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Code != http.StatusOK {
		return "", &APIError{Code: resp.Code, Message: resp.Message}
	}
	if len(resp.Data.SuccessInfos) == 0 {
		reason := "no successful uploads in response"
		if len(resp.Data.FailedInfos) > 0 {
			reason = resp.Data.FailedInfos[0].FailReason
		}
		return "", fmt.Errorf("glm: upload %s rejected: %s", filename, reason)
	}
	return resp.Data.SuccessInfos[0].DocumentID, nil
}

// DeleteDocument removes a document from the knowledge base.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+pathDocument+documentID, nil)
	if err != nil {
		return fmt.Errorf("glm: build request: %w", err)
	}
	req.Header.Set("Authorization", c.signer.Authorization())

	var resp statusResponse
	if err := c.do(req, &resp); err != nil {
		return err
	}
	if resp.Code != http.StatusOK {
		return &APIError{Code: resp.Code, Message: resp.Message}
	}
	return nil
}

// Retrieve queries the knowledge base and returns matching passages.
func (c *Client) Retrieve(ctx context.Context, req RetrieveRequest) ([]RetrieveChunk, error) {
	var resp retrieveResponse
	if err := c.postJSON(ctx, pathRetrieve, req, &resp); err != nil {
		return nil, err
	}
	if resp.Code != http.StatusOK {
		return nil, &APIError{Code: resp.Code, Message: resp.Message}
	}
	return resp.Data, nil
}

// ChatCompletion performs a blocking chat completion.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false
	var resp ChatResponse
	if err := c.postJSON(ctx, pathChat, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChatCompletionStream performs a streaming chat completion, delivering
// content fragments to onDelta in arrival order. The stream ends at the
// terminal "[DONE]" frame; a non-nil error from onDelta abandons the stream.
func (c *Client) ChatCompletionStream(ctx context.Context, req ChatRequest, onDelta func(string) error) error {
	req.Stream = true
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("glm: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathChat, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("glm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", c.signer.Authorization())
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("glm: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("glm: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return nil
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn("glm: skipping malformed stream chunk", slog.String("error", err.Error()))
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := onDelta(delta); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("glm: read stream: %w", err)
	}
	// Stream closed without the [DONE] sentinel; treat what arrived as complete.
	return nil
}

// postJSON sends body as JSON to path and decodes the response into out.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("glm: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("glm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.signer.Authorization())
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("glm: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("glm: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("glm: decode response: %w", err)
	}
	return nil
}
