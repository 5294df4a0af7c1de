package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tapedeck/internal/session"
)

func mustOpen(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "tapedeck.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newSession(id string) *session.Session {
	quality, _ := session.ParseQuality("standard")
	return &session.Session{
		ID:        id,
		Quality:   quality,
		Format:    session.FormatWAV,
		Policy:    session.DurationPolicy{Fixed: 30 * time.Second},
		StartedAt: time.Now(),
	}
}

func TestCreateAndGet(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	if err := s.Create(ctx, newSession("rec-20260101_090000")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := s.GetByID(ctx, "rec-20260101_090000")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.State != session.StateRecording {
		t.Fatalf("state = %s, want recording", got.State)
	}
	if got.Quality.SampleRate != 44100 {
		t.Fatalf("quality not rehydrated: %+v", got.Quality)
	}
	if got.Policy.Fixed != 30*time.Second {
		t.Fatalf("policy = %v", got.Policy.Fixed)
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	s := mustOpen(t)
	_, err := s.GetByID(context.Background(), "rec-20991231_115959")
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStateMachineEnforced(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()
	id := "rec-20260101_090000"
	if err := s.Create(ctx, newSession(id)); err != nil {
		t.Fatal(err)
	}

	// Completing straight from recording is illegal; merging must happen.
	if err := s.MarkCompleted(ctx, id, "/out/"+id+".wav", false); err == nil {
		t.Fatal("recording -> completed should be rejected")
	}
	if err := s.UpdateState(ctx, id, session.StateStopping); err != nil {
		t.Fatalf("recording -> stopping: %v", err)
	}
	if err := s.UpdateState(ctx, id, session.StateMerging); err != nil {
		t.Fatalf("stopping -> merging: %v", err)
	}
	if err := s.MarkCompleted(ctx, id, "/out/"+id+".wav", true); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	// Terminal states are final.
	if err := s.MarkFailed(ctx, id, errors.New("late failure")); err == nil {
		t.Fatal("completed session must not become failed")
	}

	got, _ := s.GetByID(ctx, id)
	if got.Output != "/out/"+id+".wav" {
		t.Fatalf("output = %q", got.Output)
	}
	if !got.Partial {
		t.Fatal("partial flag should round-trip")
	}
	if got.StoppedAt.IsZero() {
		t.Fatal("stopped_at should be stamped")
	}
}

func TestMarkFailedFromAnyActiveState(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()
	id := "rec-20260101_100000"
	if err := s.Create(ctx, newSession(id)); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(ctx, id, errors.New("device unplugged")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	got, _ := s.GetByID(ctx, id)
	if got.State != session.StateFailed || got.Error != "device unplugged" {
		t.Fatalf("got %s / %q", got.State, got.Error)
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	older := newSession("rec-20260101_090000")
	older.StartedAt = time.Now().Add(-time.Hour)
	newer := newSession("rec-20260101_100000")
	for _, sess := range []*session.Session{older, newer} {
		if err := s.Create(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.MarkFailed(ctx, older.ID, errors.New("x")); err != nil {
		t.Fatal(err)
	}

	all, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 || all[0].ID != newer.ID {
		t.Fatalf("unexpected order: %v", ids(all))
	}

	failed, err := s.List(ctx, session.StateFailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].ID != older.ID {
		t.Fatalf("filtered list wrong: %v", ids(failed))
	}
}

func TestListUnfinishedOldestFirst(t *testing.T) {
	s := mustOpen(t)
	ctx := context.Background()

	first := newSession("rec-20260101_090000")
	first.StartedAt = time.Now().Add(-2 * time.Hour)
	second := newSession("rec-20260101_100000")
	second.StartedAt = time.Now().Add(-time.Hour)
	done := newSession("rec-20260101_110000")
	for _, sess := range []*session.Session{first, second, done} {
		if err := s.Create(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}
	for _, st := range []session.State{session.StateStopping, session.StateMerging, session.StateCompleted} {
		if err := s.UpdateState(ctx, done.ID, st); err != nil {
			t.Fatal(err)
		}
	}

	unfinished, err := s.ListUnfinished(ctx)
	if err != nil {
		t.Fatalf("ListUnfinished: %v", err)
	}
	if len(unfinished) != 2 {
		t.Fatalf("len = %d: %v", len(unfinished), ids(unfinished))
	}
	if unfinished[0].ID != first.ID || unfinished[1].ID != second.ID {
		t.Fatalf("order wrong: %v", ids(unfinished))
	}
}

func ids(sessions []*session.Session) []string {
	out := make([]string, len(sessions))
	for i, s := range sessions {
		out[i] = s.ID
	}
	return out
}
