// Package syncer keeps a note's remote knowledge-base representation in
// step with its local PDF rendering using a replace protocol: delete the
// old remote document, upload the new one, at most one live document per
// note.
package syncer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/starford/ansuz/internal/models"
	"github.com/starford/ansuz/internal/pdf"
)

// NoteStore is the slice of the store the syncer needs.
type NoteStore interface {
	Save(models.Note) error
	Get(id string) (models.Note, error)
	Delete(id string) error
}

// Renderer produces PDF bytes for a note.
type Renderer interface {
	Render(title, content string) ([]byte, error)
}

// Files manages generated PDF files on disk.
type Files interface {
	SavePDF(filename string, data []byte) error
	DeletePDF(filename string)
}

// Remote is the slice of the knowledge-base client the syncer needs.
type Remote interface {
	UploadDocument(ctx context.Context, knowledgeBaseID, filename string, data []byte) (string, error)
	DeleteDocument(ctx context.Context, documentID string) error
}

// Syncer coordinates local persistence with best-effort remote sync.
// Local persistence never waits on the network: the remote replace runs in
// a tracked background task after the note is already on disk.
type Syncer struct {
	store           NoteStore
	files           Files
	renderer        Renderer
	remote          Remote
	knowledgeBaseID string
	logger          *slog.Logger

	onSynced func(noteID string)

	wg sync.WaitGroup
}

// New creates a syncer. An empty knowledgeBaseID disables remote sync
// entirely; saves then stop at local persistence.
func New(store NoteStore, files Files, renderer Renderer, remote Remote, knowledgeBaseID string, logger *slog.Logger) *Syncer {
	return &Syncer{
		store:           store,
		files:           files,
		renderer:        renderer,
		remote:          remote,
		knowledgeBaseID: knowledgeBaseID,
		logger:          logger,
	}
}

// SetOnSynced registers a callback invoked after a note's remote document
// has been replaced and the new id persisted. Must be set before the first
// Save.
func (s *Syncer) SetOnSynced(fn func(noteID string)) {
	s.onSynced = fn
}

// Configured reports whether a remote knowledge base is available.
func (s *Syncer) Configured() bool {
	return s.knowledgeBaseID != "" && s.remote != nil
}

// Save runs the full save pipeline for a note: render a fresh PDF, replace
// the previous one, persist locally, then replace the remote document in
// the background. Every remote or render failure degrades to plain local
// persistence; only a local store failure is returned.
func (s *Syncer) Save(ctx context.Context, note models.Note) error {
	data, err := s.renderer.Render(note.Title, note.Content)
	if err != nil {
		// PDF failure is non-fatal: skip the replace protocol entirely.
		s.logger.Warn("syncer: render failed, saving locally only",
			slog.String("note", note.ID), slog.String("error", err.Error()))
		return s.store.Save(note)
	}

	// Retire the previous rendering before adopting the new one. Old
	// records may hold absolute paths; Files reduces them to base names.
	if note.PDFFilename != "" {
		s.files.DeletePDF(note.PDFFilename)
	}

	filename := pdf.Filename(note.ID)
	if err := s.files.SavePDF(filename, data); err != nil {
		s.logger.Warn("syncer: write pdf failed, saving locally only",
			slog.String("note", note.ID), slog.String("error", err.Error()))
		note.PDFFilename = ""
		return s.store.Save(note)
	}
	note.PDFFilename = filename

	// The save-success point: local persistence is never gated on the
	// network.
	if err := s.store.Save(note); err != nil {
		return err
	}

	if !s.Configured() {
		return nil
	}

	// The replace task outlives the caller's context on purpose: an
	// in-flight sync completes and applies its side effects even if the
	// editing session has ended.
	bg := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.replaceRemote(bg, note, data)
	}()
	return nil
}

// replaceRemote deletes the note's previous remote document (failure is
// logged and ignored) and uploads the fresh rendering, strictly in that
// order. A successful upload writes the new document id back to the store.
func (s *Syncer) replaceRemote(ctx context.Context, note models.Note, data []byte) {
	if note.RemoteDocumentID != "" {
		if err := s.remote.DeleteDocument(ctx, note.RemoteDocumentID); err != nil {
			s.logger.Warn("syncer: remote delete failed, uploading anyway",
				slog.String("note", note.ID),
				slog.String("document", note.RemoteDocumentID),
				slog.String("error", err.Error()))
		}
	}

	docID, err := s.remote.UploadDocument(ctx, s.knowledgeBaseID, note.PDFFilename, data)
	if err != nil {
		s.logger.Warn("syncer: upload failed",
			slog.String("note", note.ID), slog.String("error", err.Error()))
		return
	}

	note.RemoteDocumentID = docID
	if err := s.store.Save(note); err != nil {
		s.logger.Error("syncer: persist remote document id failed",
			slog.String("note", note.ID), slog.String("error", err.Error()))
		return
	}
	s.logger.Info("syncer: note synced",
		slog.String("note", note.ID), slog.String("document", docID))
	if s.onSynced != nil {
		s.onSynced(note.ID)
	}
}

// Autosave persists the note locally without touching the PDF or the
// remote side.
func (s *Syncer) Autosave(note models.Note) error {
	return s.store.Save(note)
}

// Delete removes a note everywhere: its remote document (best-effort, in
// the background), its generated PDF, and finally the local record with
// its image attachments.
func (s *Syncer) Delete(ctx context.Context, id string) error {
	note, err := s.store.Get(id)
	if err != nil {
		// Deleting something that is not there is a no-op.
		return nil
	}

	if note.RemoteDocumentID != "" && s.Configured() {
		bg := context.WithoutCancel(ctx)
		docID := note.RemoteDocumentID
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.remote.DeleteDocument(bg, docID); err != nil {
				s.logger.Warn("syncer: remote withdrawal failed",
					slog.String("note", id),
					slog.String("document", docID),
					slog.String("error", err.Error()))
			}
		}()
	}

	if note.PDFFilename != "" {
		s.files.DeletePDF(note.PDFFilename)
	}
	return s.store.Delete(id)
}

// Wait blocks until every in-flight background sync task has finished.
// Used at shutdown and by tests.
func (s *Syncer) Wait() {
	s.wg.Wait()
}
