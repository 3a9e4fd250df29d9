package index

import (
	"log/slog"

	"github.com/starford/ansuz/internal/models"
)

// Sync brings the index in line with a store snapshot: every note in the
// snapshot is upserted and entries whose notes are gone are removed.
func Sync(db NoteIndex, notes []models.Note, logger *slog.Logger) error {
	indexed, err := db.AllIDs()
	if err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(notes))
	for _, n := range notes {
		seen[n.ID] = struct{}{}
		row := NoteRow{ID: n.ID, Title: n.Title, UpdatedAt: n.UpdatedAt.Time}
		if err := db.UpsertNote(row, n.Content); err != nil {
			logger.Warn("index: upsert failed", slog.String("note", n.ID), slog.String("error", err.Error()))
		}
	}

	for id := range indexed {
		if _, ok := seen[id]; !ok {
			if err := db.DeleteNote(id); err != nil {
				logger.Warn("index: delete stale failed", slog.String("note", id), slog.String("error", err.Error()))
			} else {
				logger.Debug("index: removed stale", slog.String("note", id))
			}
		}
	}

	return nil
}
