package todo

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestService(t *testing.T) (*Service, string) {
	t.Helper()
	ws := t.TempDir()
	return NewService(ws), ws
}

func addTask(t *testing.T, svc *Service, title string, extra map[string]any) Result {
	t.Helper()
	params := map[string]any{"title": title}
	for k, v := range extra {
		params[k] = v
	}
	res := svc.Handle("add", params)
	if !res.OK {
		t.Fatalf("add %q failed: %s", title, res.Summary)
	}
	return res
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	svc, _ := newTestService(t)

	r1 := addTask(t, svc, "first", nil)
	r2 := addTask(t, svc, "second", nil)

	if got := r1.Items[0]["id"]; got != "T0001" {
		t.Errorf("first id = %v, want T0001", got)
	}
	if got := r2.Items[0]["id"]; got != "T0002" {
		t.Errorf("second id = %v, want T0002", got)
	}
}

func TestAddRejectsMissingDependency(t *testing.T) {
	svc, _ := newTestService(t)

	res := svc.Handle("add", map[string]any{
		"title":      "task",
		"depends_on": []any{"T0099"},
	})
	if res.OK {
		t.Fatal("expected failure for missing dependency")
	}
	if !strings.Contains(res.Summary, "T0099") {
		t.Errorf("error should name the missing dependency, got: %s", res.Summary)
	}
}

func TestRemoveBlockedByDependents(t *testing.T) {
	svc, _ := newTestService(t)

	addTask(t, svc, "base", nil)                                          // T0001
	addTask(t, svc, "dependent", map[string]any{"depends_on": []any{"T0001"}}) // T0002

	res := svc.Handle("remove", map[string]any{"id": "T0001"})
	if res.OK {
		t.Fatal("expected remove to fail while T0002 depends on T0001")
	}
	if !strings.Contains(res.Summary, "T0002") {
		t.Errorf("error should name the dependent task, got: %s", res.Summary)
	}

	// Removing the dependent first unblocks the base.
	if res := svc.Handle("remove", map[string]any{"id": "T0002"}); !res.OK {
		t.Fatalf("remove T0002 failed: %s", res.Summary)
	}
	if res := svc.Handle("remove", map[string]any{"id": "T0001"}); !res.OK {
		t.Fatalf("remove T0001 failed: %s", res.Summary)
	}
}

func TestUpdateRejectsDependencyCycle(t *testing.T) {
	svc, _ := newTestService(t)

	addTask(t, svc, "a", nil)                                          // T0001
	addTask(t, svc, "b", map[string]any{"depends_on": []any{"T0001"}}) // T0002

	res := svc.Handle("update", map[string]any{
		"id":    "T0001",
		"patch": map[string]any{"depends_on": []any{"T0002"}},
	})
	if res.OK {
		t.Fatal("expected cycle to be rejected")
	}
	if !strings.Contains(res.Summary, "cycle") {
		t.Errorf("error should mention cycle, got: %s", res.Summary)
	}
}

func TestDoneStampsAndReopenClearsCompletedAt(t *testing.T) {
	svc, _ := newTestService(t)
	addTask(t, svc, "task", nil)

	res := svc.Handle("done", map[string]any{"id": "T0001"})
	if !res.OK {
		t.Fatalf("done failed: %s", res.Summary)
	}
	if res.Items[0]["completed_at"] == "" {
		t.Error("done should stamp completed_at")
	}

	res = svc.Handle("move", map[string]any{"id": "T0001", "status": "todo"})
	if !res.OK {
		t.Fatalf("move failed: %s", res.Summary)
	}
	if got := res.Items[0]["completed_at"]; got != "" {
		t.Errorf("reopening should clear completed_at, got %v", got)
	}
}

func TestArchiveRestrictedToDone(t *testing.T) {
	svc, _ := newTestService(t)
	addTask(t, svc, "open task", nil)

	res := svc.Handle("archive", map[string]any{"ids": []any{"T0001"}})
	if res.OK {
		t.Fatal("archiving an open task should fail")
	}

	svc.Handle("done", map[string]any{"id": "T0001"})
	res = svc.Handle("archive", map[string]any{"ids": []any{"T0001"}})
	if !res.OK {
		t.Fatalf("archive after done failed: %s", res.Summary)
	}
}

func TestUpdateRejectsUnknownPatchField(t *testing.T) {
	svc, _ := newTestService(t)
	addTask(t, svc, "task", nil)

	res := svc.Handle("update", map[string]any{
		"id":    "T0001",
		"patch": map[string]any{"owner": "me"},
	})
	if res.OK {
		t.Fatal("unknown patch field should be rejected")
	}
	if !strings.Contains(res.Summary, "owner") {
		t.Errorf("error should name the unknown field, got: %s", res.Summary)
	}
}

func TestListSortByPriority(t *testing.T) {
	svc, _ := newTestService(t)
	addTask(t, svc, "low", map[string]any{"priority": float64(4)})
	addTask(t, svc, "high", map[string]any{"priority": float64(1)})
	addTask(t, svc, "mid", map[string]any{"priority": float64(2)})

	res := svc.Handle("list", map[string]any{"sort_by": "priority", "sort_order": "asc"})
	if !res.OK {
		t.Fatalf("list failed: %s", res.Summary)
	}
	var titles []string
	for _, it := range res.Items {
		titles = append(titles, it["title"].(string))
	}
	want := []string{"high", "mid", "low"}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("order = %v, want %v", titles, want)
		}
	}
}

func TestListExcludesArchivedByDefault(t *testing.T) {
	svc, _ := newTestService(t)
	addTask(t, svc, "visible", nil)
	addTask(t, svc, "hidden", nil)
	svc.Handle("done", map[string]any{"id": "T0002"})
	svc.Handle("archive", map[string]any{"ids": []any{"T0002"}})

	res := svc.Handle("list", nil)
	if len(res.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(res.Items))
	}

	res = svc.Handle("list", map[string]any{
		"filters": map[string]any{"include_archived": true},
	})
	if len(res.Items) != 2 {
		t.Fatalf("expected 2 items with include_archived, got %d", len(res.Items))
	}
}

func TestReviewDailyIdempotentWithinDay(t *testing.T) {
	svc, _ := newTestService(t)
	addTask(t, svc, "task", nil)

	first := svc.Handle("review_daily", nil)
	if !first.OK {
		t.Fatalf("first review failed: %s", first.Summary)
	}
	if !strings.Contains(first.Summary, "Daily review:") {
		t.Errorf("first review should compute a summary, got: %s", first.Summary)
	}

	second := svc.Handle("review_daily", nil)
	if !second.OK {
		t.Fatalf("second review failed: %s", second.Summary)
	}
	if !strings.Contains(second.Summary, "already completed") {
		t.Errorf("second review should report already completed, got: %s", second.Summary)
	}
}

func TestSaveWritesBackupAndNoTempFile(t *testing.T) {
	svc, ws := newTestService(t)
	addTask(t, svc, "one", nil)
	addTask(t, svc, "two", nil)

	memDir := filepath.Join(ws, "memory")
	if _, err := os.Stat(filepath.Join(memDir, "todo.md.bak")); err != nil {
		t.Errorf("expected backup file after second save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(memDir, "todo.md.tmp")); !os.IsNotExist(err) {
		t.Error("temp file should not remain after save")
	}
}

func TestLoadRejectsMissingMarkers(t *testing.T) {
	ws := t.TempDir()
	memDir := filepath.Join(ws, "memory")
	if err := os.MkdirAll(memDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(memDir, "todo.md"), []byte("# Not a board\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	st := NewStorage(ws)
	if _, err := st.Load(); err == nil {
		t.Fatal("expected error for file without data markers")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	svc, ws := newTestService(t)
	addTask(t, svc, "persisted", map[string]any{
		"priority": float64(1),
		"tags":     []any{"infra", "urgent"},
		"due":      "2026-09-01",
	})

	st := NewStorage(ws)
	store, err := st.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(store.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(store.Items))
	}
	it := store.Items[0]
	if it.Title != "persisted" || it.Priority != 1 || it.Due != "2026-09-01" {
		t.Errorf("unexpected item after round trip: %+v", it)
	}
	if len(it.Tags) != 2 {
		t.Errorf("tags lost in round trip: %v", it.Tags)
	}
}

func TestEnsureAutoReviewBlockInHeartbeat(t *testing.T) {
	svc, ws := newTestService(t)
	if res := svc.Handle("init", nil); !res.OK {
		t.Fatalf("init failed: %s", res.Summary)
	}

	data, err := os.ReadFile(filepath.Join(ws, "HEARTBEAT.md"))
	if err != nil {
		t.Fatalf("heartbeat file missing: %v", err)
	}
	if !strings.Contains(string(data), "review_daily") {
		t.Error("heartbeat should contain the managed review block")
	}

	// Running init again must not duplicate the block.
	svc.Handle("init", nil)
	data, _ = os.ReadFile(filepath.Join(ws, "HEARTBEAT.md"))
	if strings.Count(string(data), "TODO_AUTO_REVIEW_START") != 1 {
		t.Error("review block duplicated on repeated init")
	}
}
