package loopback

import "replay-merge/internal/merge"

// RecordingStore is the persistence abstraction for recording descriptors.
// The Archive uses RecordingStore for all reads and writes and guards it with
// its own lock, so implementations need not be safe for concurrent use.
type RecordingStore interface {
	GetRecording(id merge.RecordingID) (*Recording, bool)
	SetRecording(r *Recording) error
	ListRecordingIDs() []merge.RecordingID
}

// InMemoryStore is an in-memory implementation of RecordingStore.
type InMemoryStore struct {
	recordings map[merge.RecordingID]*Recording
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		recordings: make(map[merge.RecordingID]*Recording),
	}
}

// GetRecording implements RecordingStore.GetRecording.
func (s *InMemoryStore) GetRecording(id merge.RecordingID) (*Recording, bool) {
	r, ok := s.recordings[id]
	return r, ok
}

// SetRecording implements RecordingStore.SetRecording.
func (s *InMemoryStore) SetRecording(r *Recording) error {
	s.recordings[r.ID] = r
	return nil
}

// ListRecordingIDs implements RecordingStore.ListRecordingIDs.
func (s *InMemoryStore) ListRecordingIDs() []merge.RecordingID {
	ids := make([]merge.RecordingID, 0, len(s.recordings))
	for id := range s.recordings {
		ids = append(ids, id)
	}
	return ids
}
