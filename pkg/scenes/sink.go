package scenes

import (
	"github.com/mudscribe/mudscribe/pkg/enrich"
	"github.com/mudscribe/mudscribe/pkg/logger"
)

// ArchivingSink forwards everything to the wrapped sink and also files each
// background image in the store.
type ArchivingSink struct {
	enrich.Sink
	store     *Store
	sessionID string
}

func Wrap(next enrich.Sink, store *Store, sessionID string) *ArchivingSink {
	return &ArchivingSink{Sink: next, store: store, sessionID: sessionID}
}

func (a *ArchivingSink) PublishBackgroundImage(img []byte) {
	rec, err := a.store.Save(a.sessionID, img)
	if err != nil {
		logger.WarnCF("scenes", "Failed to archive scene", map[string]any{"error": err.Error()})
	} else {
		logger.DebugCF("scenes", "Scene archived", map[string]any{"id": rec.ID, "path": rec.StoredPath})
	}
	a.Sink.PublishBackgroundImage(img)
}
