package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/attachments"
	"github.com/starford/ansuz/internal/glm"
	"github.com/starford/ansuz/internal/index"
	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/pdf"
	"github.com/starford/ansuz/internal/store"
	"github.com/starford/ansuz/internal/syncer"
)

type testEnv struct {
	store  *store.Store
	idx    *index.DB
	router http.Handler
}

func newTestEnv(t *testing.T, authToken string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dataDir := t.TempDir()
	att := attachments.New(dataDir, logger)
	st := store.New(dataDir, att, logger)
	renderer := pdf.NewRenderer(att)
	sync := syncer.New(st, att, renderer, nil, "", logger)

	dbFile, err := os.CreateTemp("", "ansuz-api-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	idx, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	router := NewRouter(Deps{
		Notes:       NewHandler(st, sync, idx),
		Attachments: NewAttachmentHandler(att),
	}, authToken != "", authToken)

	return &testEnv{store: st, idx: idx, router: router}
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetNote(t *testing.T) {
	env := newTestEnv(t, "")

	body, _ := json.Marshal(CreateNoteRequest{Title: "Hello", Content: "World"})
	w := env.do(t, http.MethodPost, "/notes", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var created models.Note
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Title != "Hello" {
		t.Errorf("created = %+v", created)
	}
	if created.PDFFilename != pdf.Filename(created.ID) {
		t.Errorf("pdf filename = %q", created.PDFFilename)
	}

	w = env.do(t, http.MethodGet, "/notes/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got models.Note
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Content != "World" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestCreateRejectsEmpty(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPost, "/notes", []byte(`{}`))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetMissingNote(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/notes/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestUpdatePatchesOnlyGivenFields(t *testing.T) {
	env := newTestEnv(t, "")

	body, _ := json.Marshal(CreateNoteRequest{Title: "Original", Content: "Body"})
	w := env.do(t, http.MethodPost, "/notes", body)
	var created models.Note
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = env.do(t, http.MethodPut, "/notes/"+created.ID, []byte(`{"title":"Renamed"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", w.Code, w.Body.String())
	}
	var updated models.Note
	_ = json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.Title != "Renamed" {
		t.Errorf("title = %q", updated.Title)
	}
	if updated.Content != "Body" {
		t.Errorf("content = %q, want untouched", updated.Content)
	}
}

func TestUpdateAutosaveSkipsPDF(t *testing.T) {
	env := newTestEnv(t, "")

	// Autosave on a fresh note: no PDF should appear.
	note := models.New("Draft", "first keystrokes")
	if err := env.store.Save(note); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodPut, "/notes/"+note.ID+"?sync=false", []byte(`{"content":"more keystrokes"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var updated models.Note
	_ = json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.PDFFilename != "" {
		t.Errorf("autosave produced a pdf: %q", updated.PDFFilename)
	}
	if updated.Content != "more keystrokes" {
		t.Errorf("content = %q", updated.Content)
	}
}

func TestUpdateMissingNote(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodPut, "/notes/nope", []byte(`{"title":"x"}`))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDeleteNoteAndIdempotency(t *testing.T) {
	env := newTestEnv(t, "")

	note := models.New("Doomed", "bye")
	if err := env.store.Save(note); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodDelete, "/notes/"+note.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/notes/"+note.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d", w.Code)
	}

	// Deleting again is a no-op.
	w = env.do(t, http.MethodDelete, "/notes/"+note.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("second delete = %d, want 204", w.Code)
	}
}

func TestListNotes(t *testing.T) {
	env := newTestEnv(t, "")

	for _, title := range []string{"one", "two"} {
		body, _ := json.Marshal(CreateNoteRequest{Title: title, Content: "c"})
		if w := env.do(t, http.MethodPost, "/notes", body); w.Code != http.StatusCreated {
			t.Fatalf("create %q = %d", title, w.Code)
		}
	}

	w := env.do(t, http.MethodGet, "/notes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var resp NoteListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 || len(resp.Notes) != 2 {
		t.Errorf("total = %d, notes = %d", resp.Total, len(resp.Notes))
	}
}

func TestSearch(t *testing.T) {
	env := newTestEnv(t, "")

	note := models.New("Shopping", "buy oat milk")
	_ = env.store.Save(note)
	if err := env.idx.UpsertNote(index.NoteRow{ID: note.ID, Title: note.Title, UpdatedAt: note.UpdatedAt.Time}, note.Content); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/search?q=oat", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp SearchResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Results) != 1 || resp.Results[0].ID != note.ID {
		t.Errorf("results = %+v", resp.Results)
	}

	w = env.do(t, http.MethodGet, "/search", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing q = %d, want 400", w.Code)
	}
}

func TestAuthModes(t *testing.T) {
	env := newTestEnv(t, "sekrit")

	w := env.do(t, http.MethodGet, "/notes", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/notes", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", rec.Code)
	}
}

func pngUpload(t *testing.T) (body *bytes.Buffer, contentType string) {
	t.Helper()
	var img bytes.Buffer
	if err := png.Encode(&img, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}

	body = &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", "photo.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(img.Bytes()); err != nil {
		t.Fatal(err)
	}
	mw.Close()
	return body, mw.FormDataContentType()
}

func TestAttachmentUploadAndServe(t *testing.T) {
	env := newTestEnv(t, "")

	body, contentType := pngUpload(t)
	req := httptest.NewRequest(http.MethodPost, "/attachments", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp AttachmentUploadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.HasSuffix(resp.Filename, ".jpg") {
		t.Errorf("filename = %q, want .jpg", resp.Filename)
	}
	if resp.Markdown != fmt.Sprintf("![](%s)", resp.Filename) {
		t.Errorf("markdown = %q", resp.Markdown)
	}

	got := env.do(t, http.MethodGet, "/attachments/"+resp.Filename, nil)
	if got.Code != http.StatusOK {
		t.Fatalf("serve status = %d", got.Code)
	}
	if !bytes.HasPrefix(got.Body.Bytes(), []byte{0xFF, 0xD8}) {
		t.Error("served file is not a jpeg")
	}
}

func TestAttachmentUploadedURLResolves(t *testing.T) {
	env := newTestEnv(t, "")

	// Mount the API router the way the server does, so the advertised URL
	// is checked against the real route prefix.
	root := chi.NewRouter()
	root.Mount("/api", env.router)

	body, contentType := pngUpload(t)
	req := httptest.NewRequest(http.MethodPost, "/api/attachments", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	root.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp AttachmentUploadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.URL != "/api/attachments/"+resp.Filename {
		t.Errorf("url = %q", resp.URL)
	}

	getReq := httptest.NewRequest(http.MethodGet, resp.URL, nil)
	rec := httptest.NewRecorder()
	root.ServeHTTP(rec, getReq)
	if rec.Code != http.StatusOK {
		t.Fatalf("advertised url %q answered %d", resp.URL, rec.Code)
	}
}

func TestAttachmentUploadRejectsGarbage(t *testing.T) {
	env := newTestEnv(t, "")

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, _ := mw.CreateFormFile("file", "junk.bin")
	_, _ = fw.Write([]byte("not an image"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/attachments", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAttachmentServeRejectsTraversal(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/attachments/..%2Fnotes.json", nil)
	if w.Code != http.StatusBadRequest && w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want rejection", w.Code)
	}
}

func chatBackend(t *testing.T, handler http.HandlerFunc) *glm.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return glm.NewClient(srv.URL+"/", "id.secret", logger)
}

func TestChatBlocking(t *testing.T) {
	client := chatBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/paas/v4/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "glm-4",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "42"}},
			},
		})
	})

	h := NewChatHandler(client, "", "glm-4")
	body, _ := json.Marshal(ChatRequestBody{Messages: []ChatMessage{{Role: "user", Content: "meaning of life?"}}})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Chat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp ChatResponseBody
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Content != "42" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestChatRequiresMessages(t *testing.T) {
	h := NewChatHandler(chatBackend(t, func(w http.ResponseWriter, r *http.Request) {}), "", "glm-4")
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"messages":[]}`))
	w := httptest.NewRecorder()
	h.Chat(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestChatUnconfigured(t *testing.T) {
	h := NewChatHandler(nil, "", "")
	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.Chat(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestChatWithRetrievalContext(t *testing.T) {
	var chatBody []byte
	client := chatBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/llm-application/open/knowledge/retrieve"):
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 200,
				"data": []map[string]any{
					{"text": "the answer is 42", "score": 0.9},
				},
			})
		case strings.HasSuffix(r.URL.Path, "/paas/v4/chat/completions"):
			chatBody, _ = io.ReadAll(r.Body)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"model": "glm-4",
				"choices": []map[string]any{
					{"message": map[string]string{"role": "assistant", "content": "ok"}},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	h := NewChatHandler(client, "kb-1", "glm-4")
	body, _ := json.Marshal(ChatRequestBody{
		Messages:     []ChatMessage{{Role: "user", Content: "meaning of life?"}},
		UseRetrieval: true,
	})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Chat(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(string(chatBody), "the answer is 42") {
		t.Errorf("retrieved context missing from upstream request: %s", chatBody)
	}
}

func TestChatStreamRelaysDeltas(t *testing.T) {
	client := chatBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	h := NewChatHandler(client, "", "glm-4")
	body, _ := json.Marshal(ChatRequestBody{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ChatStream(w, req)

	out := w.Body.String()
	if !strings.Contains(out, `"delta":"Hel"`) || !strings.Contains(out, `"delta":"lo"`) {
		t.Errorf("missing deltas in %q", out)
	}
	if !strings.Contains(out, "data: [DONE]") {
		t.Errorf("missing terminator in %q", out)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}

func TestChatStreamReportsUpstreamFailure(t *testing.T) {
	client := chatBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	h := NewChatHandler(client, "", "glm-4")
	body, _ := json.Marshal(ChatRequestBody{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.ChatStream(w, req)

	out := w.Body.String()
	if !strings.Contains(out, `"error"`) {
		t.Errorf("failure not surfaced in-band: %q", out)
	}
	if strings.Contains(out, "data: [DONE]") {
		t.Errorf("broken stream must not look complete: %q", out)
	}
}

func TestKnowledgeCreate(t *testing.T) {
	client := chatBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/llm-application/open/knowledge") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req glm.KnowledgeBaseRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "notes" || req.EmbeddingID != 3 {
			t.Errorf("request = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 200,
			"data": map[string]string{"id": "kb-new"},
		})
	})

	h := NewKnowledgeHandler(client, 3)
	body, _ := json.Marshal(KnowledgeBaseRequestBody{Name: "notes"})
	req := httptest.NewRequest(http.MethodPost, "/knowledge", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp KnowledgeBaseResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.ID != "kb-new" {
		t.Errorf("id = %q", resp.ID)
	}
}
