package deploy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sitebox/internal/artifact"
	"sitebox/internal/storage"
	"sitebox/internal/store"
)

func setupManager(t *testing.T) (*Manager, *store.Store, *storage.MemStore, *store.Site) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "sitebox.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	blobs := storage.NewMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := NewManager(st, blobs, logger)

	site, err := st.CreateSite(context.Background(), "test-site", "owner", store.AccessPublic)
	if err != nil {
		t.Fatalf("CreateSite() error = %v", err)
	}
	return mgr, st, blobs, site
}

func TestFullDeploymentFlow(t *testing.T) {
	mgr, st, blobs, site := setupManager(t)
	ctx := context.Background()

	msg := "v1"
	dep, err := mgr.Create(ctx, site.ID, &msg)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := mgr.MarkProcessing(ctx, dep.ID); err != nil {
		t.Fatalf("MarkProcessing() error = %v", err)
	}

	files := []FileUpload{
		{Path: "index.html", Content: []byte("<html></html>")},
		{Path: "/style.css", Content: []byte("body{}")},
	}
	if err := mgr.UploadBatch(ctx, dep.ID, files); err != nil {
		t.Fatalf("UploadBatch() error = %v", err)
	}

	// Files are stored under their normalized storage keys.
	if _, err := blobs.Get(ctx, storage.Key(site.ID, dep.ID, "style.css")); err != nil {
		t.Errorf("uploaded file not at storage key: %v", err)
	}

	total := int64(len("<html></html>") + len("body{}"))
	final, err := mgr.Finalize(ctx, dep.ID, 2, total)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if final.Status != store.StatusLive {
		t.Errorf("status = %s, want live", final.Status)
	}
	if final.BlobRef == nil {
		t.Fatal("finalized deployment has no blob ref")
	}

	// The packed artifact parses back to the uploaded files.
	packed, err := blobs.Get(ctx, *final.BlobRef)
	if err != nil {
		t.Fatalf("artifact blob missing: %v", err)
	}
	idx, err := artifact.Parse(packed)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(idx) != 2 {
		t.Errorf("artifact index size = %d, want 2", len(idx))
	}
	if got, ok := idx["style.css"]; !ok || string(got.Content) != "body{}" {
		t.Errorf("artifact style.css = %v, want body{}", got)
	}

	gotSite, _ := st.GetSite(ctx, site.ID)
	if gotSite.ActiveDeploymentID == nil || *gotSite.ActiveDeploymentID != dep.ID {
		t.Errorf("active deployment = %v, want %s", gotSite.ActiveDeploymentID, dep.ID)
	}
}

func TestUploadBatchRejectsTraversalPaths(t *testing.T) {
	mgr, _, _, site := setupManager(t)
	ctx := context.Background()

	dep, _ := mgr.Create(ctx, site.ID, nil)
	err := mgr.UploadBatch(ctx, dep.ID, []FileUpload{{Path: "../../etc/passwd", Content: []byte("x")}})
	if err == nil {
		t.Error("UploadBatch() with traversal path succeeded, want error")
	}
}

func TestUploadBatchAfterTerminal(t *testing.T) {
	mgr, _, _, site := setupManager(t)
	ctx := context.Background()

	dep, _ := mgr.Create(ctx, site.ID, nil)
	mgr.MarkProcessing(ctx, dep.ID)
	if err := mgr.UploadBatch(ctx, dep.ID, []FileUpload{{Path: "a.txt", Content: []byte("a")}}); err != nil {
		t.Fatalf("UploadBatch() error = %v", err)
	}
	if _, err := mgr.Finalize(ctx, dep.ID, 1, 1); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	err := mgr.UploadBatch(ctx, dep.ID, []FileUpload{{Path: "b.txt", Content: []byte("b")}})
	if !errors.Is(err, store.ErrDeploymentImmutable) {
		t.Errorf("UploadBatch() on live deployment error = %v, want ErrDeploymentImmutable", err)
	}
}

func TestFinalizeRequiresProcessing(t *testing.T) {
	mgr, st, _, site := setupManager(t)
	ctx := context.Background()

	dep, _ := mgr.Create(ctx, site.ID, nil)
	_, err := mgr.Finalize(ctx, dep.ID, 0, 0)
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("Finalize() from pending error = %v, want ErrInvalidTransition", err)
	}

	// A rejected finalize does not fail the deployment.
	got, _ := st.GetDeployment(ctx, dep.ID)
	if got.Status != store.StatusPending {
		t.Errorf("status after rejected finalize = %s, want pending", got.Status)
	}
}

func TestFinalizeAccountingMismatchFailsDeployment(t *testing.T) {
	mgr, st, _, site := setupManager(t)
	ctx := context.Background()

	dep, _ := mgr.Create(ctx, site.ID, nil)
	mgr.MarkProcessing(ctx, dep.ID)
	mgr.UploadBatch(ctx, dep.ID, []FileUpload{{Path: "a.txt", Content: []byte("aaaa")}})

	if _, err := mgr.Finalize(ctx, dep.ID, 2, 4); err == nil {
		t.Fatal("Finalize() with wrong file count succeeded, want error")
	}

	got, _ := st.GetDeployment(ctx, dep.ID)
	if got.Status != store.StatusFailed {
		t.Errorf("status after accounting mismatch = %s, want failed", got.Status)
	}

	gotSite, _ := st.GetSite(ctx, site.ID)
	if gotSite.ActiveDeploymentID != nil {
		t.Errorf("active deployment = %v after failed finalize, want nil", *gotSite.ActiveDeploymentID)
	}
}

func TestFailedFinalizeKeepsPreviousActive(t *testing.T) {
	mgr, st, _, site := setupManager(t)
	ctx := context.Background()

	first, _ := mgr.Create(ctx, site.ID, nil)
	mgr.MarkProcessing(ctx, first.ID)
	mgr.UploadBatch(ctx, first.ID, []FileUpload{{Path: "index.html", Content: []byte("v1")}})
	if _, err := mgr.Finalize(ctx, first.ID, 1, 2); err != nil {
		t.Fatalf("Finalize(first) error = %v", err)
	}

	second, _ := mgr.Create(ctx, site.ID, nil)
	mgr.MarkProcessing(ctx, second.ID)
	mgr.UploadBatch(ctx, second.ID, []FileUpload{{Path: "index.html", Content: []byte("v2")}})
	if _, err := mgr.Finalize(ctx, second.ID, 99, 99); err == nil {
		t.Fatal("Finalize(second) with bad accounting succeeded, want error")
	}

	// The old live deployment keeps serving.
	gotSite, _ := st.GetSite(ctx, site.ID)
	if gotSite.ActiveDeploymentID == nil || *gotSite.ActiveDeploymentID != first.ID {
		t.Errorf("active deployment = %v, want %s", gotSite.ActiveDeploymentID, first.ID)
	}
}

func TestConcurrentFinalizeLeavesOneActive(t *testing.T) {
	mgr, st, _, site := setupManager(t)
	ctx := context.Background()

	const n = 5
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		dep, _ := mgr.Create(ctx, site.ID, nil)
		mgr.MarkProcessing(ctx, dep.ID)
		mgr.UploadBatch(ctx, dep.ID, []FileUpload{{Path: "index.html", Content: []byte("x")}})
		ids[i] = dep.ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := mgr.Finalize(ctx, id, 1, 1); err != nil {
				t.Errorf("Finalize(%s) error = %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	gotSite, err := st.GetSite(ctx, site.ID)
	if err != nil {
		t.Fatalf("GetSite() error = %v", err)
	}
	if gotSite.ActiveDeploymentID == nil {
		t.Fatal("no active deployment after concurrent finalizes")
	}
	found := false
	for _, id := range ids {
		if *gotSite.ActiveDeploymentID == id {
			found = true
		}
	}
	if !found {
		t.Errorf("active deployment %s is not one of the finalized deployments", *gotSite.ActiveDeploymentID)
	}
}

func TestFailStale(t *testing.T) {
	mgr, st, _, site := setupManager(t)
	ctx := context.Background()

	stuck, _ := mgr.Create(ctx, site.ID, nil)
	mgr.MarkProcessing(ctx, stuck.ID)

	live, _ := mgr.Create(ctx, site.ID, nil)
	mgr.MarkProcessing(ctx, live.ID)
	mgr.UploadBatch(ctx, live.ID, []FileUpload{{Path: "index.html", Content: []byte("x")}})
	if _, err := mgr.Finalize(ctx, live.ID, 1, 1); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	// Zero max age makes every non-terminal deployment stale.
	time.Sleep(5 * time.Millisecond)
	n, err := mgr.FailStale(ctx, 0)
	if err != nil {
		t.Fatalf("FailStale() error = %v", err)
	}
	if n != 1 {
		t.Errorf("FailStale() = %d, want 1", n)
	}

	got, _ := st.GetDeployment(ctx, stuck.ID)
	if got.Status != store.StatusFailed {
		t.Errorf("stuck deployment status = %s, want failed", got.Status)
	}
	gotLive, _ := st.GetDeployment(ctx, live.ID)
	if gotLive.Status != store.StatusLive {
		t.Errorf("live deployment status = %s, want live", gotLive.Status)
	}
}
