package catalog

import (
	"context"
	"time"

	"replay-merge/internal/loopback"
)

// writeTimeout bounds a single catalog write made on behalf of the archive.
const writeTimeout = 5 * time.Second

// Store is a loopback.RecordingStore that mirrors every descriptor change into
// a Catalog. Live recording handles stay in memory.
type Store struct {
	*loopback.InMemoryStore
	catalog   *Catalog
	archiveID string
}

// NewStore returns a store writing under archiveID.
func NewStore(c *Catalog, archiveID string) *Store {
	return &Store{
		InMemoryStore: loopback.NewInMemoryStore(),
		catalog:       c,
		archiveID:     archiveID,
	}
}

// ArchiveID returns the key this store writes its rows under.
func (s *Store) ArchiveID() string { return s.archiveID }

// SetRecording persists r before making it visible in memory.
func (s *Store) SetRecording(r *loopback.Recording) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := s.catalog.Upsert(ctx, Descriptor{
		ArchiveID:     s.archiveID,
		RecordingID:   r.ID,
		SessionID:     r.SessionID,
		StreamID:      r.StreamID,
		StartPosition: r.StartPosition,
		StopPosition:  r.StopPosition,
	})
	if err != nil {
		return err
	}
	return s.InMemoryStore.SetRecording(r)
}
