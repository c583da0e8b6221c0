package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"replay-merge/internal/loopback"
	"replay-merge/internal/merge"
)

var _ loopback.RecordingStore = (*Store)(nil)

func openTempCatalog(t *testing.T) (*Catalog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog", "recordings.db")
	c, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, path
}

func TestCatalog_UpsertGet(t *testing.T) {
	c, _ := openTempCatalog(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	d := Descriptor{ArchiveID: "a1", RecordingID: 0, SessionID: 7, StreamID: 33, StartPosition: 0, StopPosition: -1, UpdatedAt: at}
	if err := c.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	got, err := c.Get(ctx, "a1", 0)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, at)
	}
	got.UpdatedAt = at
	if got != d {
		t.Errorf("Get = %+v, want %+v", got, d)
	}

	d.StopPosition = 4096
	d.UpdatedAt = at.Add(time.Minute)
	if err := c.Upsert(ctx, d); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got, _ := c.Get(ctx, "a1", 0); got.StopPosition != 4096 || !got.UpdatedAt.Equal(d.UpdatedAt) {
		t.Errorf("update not applied: %+v", got)
	}

	if _, err := c.Get(ctx, "a1", 9); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalog_rejects_negative_start(t *testing.T) {
	c, _ := openTempCatalog(t)
	err := c.Upsert(context.Background(), Descriptor{ArchiveID: "a1", StartPosition: -64, StopPosition: -1})
	if err == nil {
		t.Error("expected constraint violation")
	}
}

func TestCatalog_List(t *testing.T) {
	c, _ := openTempCatalog(t)
	ctx := context.Background()
	for _, d := range []Descriptor{
		{ArchiveID: "b", RecordingID: 0, StopPosition: -1},
		{ArchiveID: "a", RecordingID: 1, StopPosition: -1},
		{ArchiveID: "a", RecordingID: 0, StopPosition: 128},
	} {
		if err := c.Upsert(ctx, d); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	t.Run("one_archive", func(t *testing.T) {
		got, err := c.List(ctx, "a")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 || got[0].RecordingID != 0 || got[1].RecordingID != 1 {
			t.Errorf("unexpected list %+v", got)
		}
	})

	t.Run("all_archives", func(t *testing.T) {
		got, err := c.List(ctx, "")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 3 || got[2].ArchiveID != "b" {
			t.Errorf("unexpected list %+v", got)
		}
	})
}

func TestCatalog_survives_reopen(t *testing.T) {
	c, path := openTempCatalog(t)
	ctx := context.Background()
	if err := c.Upsert(ctx, Descriptor{ArchiveID: "a", RecordingID: 3, SessionID: 1, StopPosition: 640}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get(ctx, "a", 3)
	if err != nil || got.StopPosition != 640 {
		t.Errorf("descriptor lost across reopen: %+v %v", got, err)
	}
}

func TestStore_mirrors_archive(t *testing.T) {
	c, _ := openTempCatalog(t)
	ctx := context.Background()

	d := loopback.NewDriver()
	pub, err := d.AddPublication(loopback.Channel{Endpoint: "localhost:1"}.String(), 33)
	if err != nil {
		t.Fatalf("AddPublication: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := pub.Offer([]byte("msg")); err != nil {
			t.Fatalf("Offer: %v", err)
		}
	}

	store := NewStore(c, "run-1")
	a := loopback.NewArchiveWithStore(d, store)
	id, err := a.StartRecording(pub.SessionID())
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	got, err := c.Get(ctx, store.ArchiveID(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != pub.SessionID() || got.StreamID != 33 || got.StartPosition != 192 || got.StopPosition != loopback.NullPosition {
		t.Errorf("unexpected descriptor %+v", got)
	}

	if _, err := pub.Offer([]byte("msg")); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if err := a.StopRecording(id); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	if got, _ := c.Get(ctx, store.ArchiveID(), id); got.StopPosition != 256 {
		t.Errorf("stop position not persisted: %+v", got)
	}
}

func TestStore_write_failure_keeps_memory_clean(t *testing.T) {
	c, _ := openTempCatalog(t)
	store := NewStore(c, "run-1")
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := store.SetRecording(&loopback.Recording{ID: 1, StopPosition: loopback.NullPosition}); err == nil {
		t.Fatal("expected write error on closed catalog")
	}
	if _, ok := store.GetRecording(merge.RecordingID(1)); ok {
		t.Error("failed write must not be visible in memory")
	}
}

func TestCatalog_Close_nil(t *testing.T) {
	var c *Catalog
	if err := c.Close(); err != nil {
		t.Errorf("Close on nil catalog: %v", err)
	}
}
