package progress_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/medprep/qbank/internal/progress"
)

// fakeSyncer records pushes and serves a canned pull document.
type fakeSyncer struct {
	mu      sync.Mutex
	pushes  int
	last    progress.Document
	pullDoc *progress.Document
	pushErr error
	pullErr error
}

func (f *fakeSyncer) Push(_ context.Context, doc progress.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	f.last = doc
	return f.pushErr
}

func (f *fakeSyncer) Pull(_ context.Context) (*progress.Document, error) {
	return f.pullDoc, f.pullErr
}

func (f *fakeSyncer) pushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes
}

func newTestStore(t *testing.T, opts ...progress.Option) *progress.Store {
	t.Helper()
	s, err := progress.NewStore(context.Background(), progress.NewMemorySlots(), opts...)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return s
}

func TestStore_NoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	slots := progress.NewMemorySlots()

	s, err := progress.NewStore(ctx, slots)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveNote(ctx, 101, "mitral stenosis murmur"); err != nil {
		t.Fatal(err)
	}

	// A fresh store over the same slots sees the persisted note.
	s2, err := progress.NewStore(ctx, slots)
	if err != nil {
		t.Fatal(err)
	}
	if got := s2.Note(101); got != "mitral stenosis murmur" {
		t.Errorf("Note(101) = %q", got)
	}

	if err := s2.SaveNote(ctx, 101, ""); err != nil {
		t.Fatal(err)
	}
	if got := s2.Note(101); got != "" {
		t.Errorf("Note(101) after delete = %q", got)
	}
}

func TestStore_CorruptSlotFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	slots := progress.NewMemorySlots()
	if err := slots.Save(ctx, progress.SlotNotes, []byte(`{not json`)); err != nil {
		t.Fatal(err)
	}
	if err := slots.Save(ctx, progress.SlotHistory, []byte(`"wrong shape"`)); err != nil {
		t.Fatal(err)
	}

	s, err := progress.NewStore(ctx, slots)
	if err != nil {
		t.Fatalf("NewStore() error = %v, want fallback not failure", err)
	}
	if len(s.Notes()) != 0 {
		t.Errorf("Notes() = %v, want empty", s.Notes())
	}
	if len(s.History()) != 0 {
		t.Errorf("History() = %v, want empty", s.History())
	}
}

func TestStore_UpsertHistoryReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.UpsertHistory(ctx, progress.HistoryEntry{ID: "t1", Suspended: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertHistory(ctx, progress.HistoryEntry{ID: "t2", Completed: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertHistory(ctx, progress.HistoryEntry{ID: "t1", Completed: true, Score: 80}); err != nil {
		t.Fatal(err)
	}

	hist := s.History()
	if len(hist) != 2 {
		t.Fatalf("history len = %d, want 2", len(hist))
	}
	e, ok := s.Entry("t1")
	if !ok {
		t.Fatal("Entry(t1) missing")
	}
	if !e.Completed || e.Suspended || e.Score != 80 {
		t.Errorf("Entry(t1) = %+v, want completed score 80", e)
	}
}

func TestStore_RecordSubmitIncrementsAggregate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	st := progress.Status{Answered: true, Correct: true, UserAnswer: "A"}
	if err := s.RecordSubmit(ctx, 101, st, "Cardiology"); err != nil {
		t.Fatal(err)
	}
	st2 := progress.Status{Answered: true, Correct: false, UserAnswer: "B"}
	if err := s.RecordSubmit(ctx, 102, st2, "Cardiology"); err != nil {
		t.Fatal(err)
	}
	// Same question submitted again in a later session increments again.
	if err := s.RecordSubmit(ctx, 101, st2, "Cardiology"); err != nil {
		t.Fatal(err)
	}

	perf := s.Performance()["Cardiology"]
	if perf.Total != 3 || perf.Correct != 1 {
		t.Errorf("aggregate = %+v, want {Correct:1 Total:3}", perf)
	}

	// The status record itself is overwritten, not accumulated.
	got, ok := s.Status(101)
	if !ok || got.Correct || got.UserAnswer != "B" {
		t.Errorf("Status(101) = %+v, want overwritten to incorrect B", got)
	}
}

func TestStore_MarkUsedUnions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.MarkUsed(ctx, []int{103, 101}); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkUsed(ctx, []int{101, 102}); err != nil {
		t.Fatal(err)
	}

	got := s.UsedQuestions()
	want := []int{101, 102, 103}
	if len(got) != len(want) {
		t.Fatalf("UsedQuestions() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("UsedQuestions() = %v, want %v", got, want)
		}
	}
	if !s.IsUsed(102) || s.IsUsed(999) {
		t.Error("IsUsed membership wrong")
	}
}

func TestStore_ResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	slots := progress.NewMemorySlots()
	s, err := progress.NewStore(ctx, slots)
	if err != nil {
		t.Fatal(err)
	}

	_ = s.SaveNote(ctx, 1, "n")
	_ = s.MarkUsed(ctx, []int{1})
	_ = s.UpsertHistory(ctx, progress.HistoryEntry{ID: "t1"})
	_ = s.RecordSubmit(ctx, 1, progress.Status{Answered: true}, "T")

	if err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}

	s2, err := progress.NewStore(ctx, slots)
	if err != nil {
		t.Fatal(err)
	}
	if len(s2.History()) != 0 || len(s2.Notes()) != 0 ||
		len(s2.UsedQuestions()) != 0 || len(s2.Performance()) != 0 ||
		len(s2.Statuses()) != 0 {
		t.Error("Reset left persisted state behind")
	}
}

func TestStore_SyncDebounceCoalesces(t *testing.T) {
	ctx := context.Background()
	syncer := &fakeSyncer{}
	s := newTestStore(t, progress.WithSyncer(syncer, 30*time.Millisecond))

	for i := range 5 {
		if err := s.SaveNote(ctx, i, "n"); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(120 * time.Millisecond)
	if got := syncer.pushCount(); got != 1 {
		t.Errorf("pushes = %d, want 1 coalesced push", got)
	}
}

func TestStore_SyncFailureAbsorbed(t *testing.T) {
	ctx := context.Background()
	syncer := &fakeSyncer{pushErr: errors.New("remote down")}
	s := newTestStore(t, progress.WithSyncer(syncer, 5*time.Millisecond))

	if err := s.SaveNote(ctx, 1, "n"); err != nil {
		t.Fatalf("local save must not surface sync errors, got %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := s.Note(1); got != "n" {
		t.Errorf("local state lost after failed sync: %q", got)
	}
}

func TestStore_LoadFromRemoteOverwrites(t *testing.T) {
	ctx := context.Background()
	slots := progress.NewMemorySlots()
	syncer := &fakeSyncer{
		pullDoc: &progress.Document{
			TestHistory:   []progress.HistoryEntry{{ID: "remote", Completed: true}},
			Notes:         map[int]string{7: "from remote"},
			UsedQuestions: []int{7},
		},
	}
	s, err := progress.NewStore(ctx, slots, progress.WithSyncer(syncer, time.Second))
	if err != nil {
		t.Fatal(err)
	}
	_ = s.SaveNote(ctx, 1, "local only")

	if err := s.LoadFromRemote(ctx); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Entry("remote"); !ok {
		t.Error("remote history entry missing after load")
	}
	if s.Note(1) != "" || s.Note(7) != "from remote" {
		t.Errorf("notes not overwritten: %v", s.Notes())
	}

	// The overwrite is persisted locally.
	s2, err := progress.NewStore(ctx, slots)
	if err != nil {
		t.Fatal(err)
	}
	if s2.Note(7) != "from remote" {
		t.Error("overwrite was not persisted")
	}
}

func TestStore_LoadFromRemoteNilHistoryIsNoOp(t *testing.T) {
	ctx := context.Background()
	syncer := &fakeSyncer{pullDoc: &progress.Document{Notes: map[int]string{9: "x"}}}
	s := newTestStore(t, progress.WithSyncer(syncer, time.Second))
	_ = s.SaveNote(ctx, 1, "keep me")

	if err := s.LoadFromRemote(ctx); err != nil {
		t.Fatal(err)
	}
	if s.Note(1) != "keep me" {
		t.Error("nil-history pull must leave local state untouched")
	}
	if s.Note(9) != "" {
		t.Error("nil-history pull must not import remote slots")
	}
}

func TestStore_FlushPushesCurrentState(t *testing.T) {
	ctx := context.Background()
	syncer := &fakeSyncer{}
	s := newTestStore(t, progress.WithSyncer(syncer, time.Hour))

	_ = s.SaveNote(ctx, 4, "n")
	if err := s.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if syncer.pushCount() != 1 {
		t.Fatalf("pushes = %d, want 1", syncer.pushCount())
	}
	syncer.mu.Lock()
	defer syncer.mu.Unlock()
	if syncer.last.Notes[4] != "n" {
		t.Errorf("pushed doc notes = %v", syncer.last.Notes)
	}
}
