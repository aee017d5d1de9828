package modelcache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeDownloader struct {
	calls int
	data  []byte
	err   error
}

func (f *fakeDownloader) Download(ctx context.Context, path string) ([]byte, error) {
	f.calls++
	return f.data, f.err
}

func TestDisk_Ensure_DownloadsOnMiss(t *testing.T) {
	root := t.TempDir()
	dl := &fakeDownloader{data: []byte("fake-onnx-bytes")}
	disk := NewDisk(root, dl)

	path, err := disk.Ensure(context.Background(), Key{DetectorID: "det-1", Role: RolePrimary}, "images/model.onnx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dl.calls != 1 {
		t.Fatalf("expected exactly one download on cache miss, got %d", dl.calls)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read materialized artifact: %v", err)
	}
	if string(got) != "fake-onnx-bytes" {
		t.Errorf("unexpected artifact content: %q", got)
	}
}

func TestDisk_Ensure_CachedOnSecondCall(t *testing.T) {
	root := t.TempDir()
	dl := &fakeDownloader{data: []byte("bytes")}
	disk := NewDisk(root, dl)
	key := Key{DetectorID: "det-2", Role: RolePrimary}

	if _, err := disk.Ensure(context.Background(), key, "images/model.onnx"); err != nil {
		t.Fatalf("first Ensure failed: %v", err)
	}
	if _, err := disk.Ensure(context.Background(), key, "images/model.onnx"); err != nil {
		t.Fatalf("second Ensure failed: %v", err)
	}
	if dl.calls != 1 {
		t.Errorf("expected download to happen once, got %d calls", dl.calls)
	}
}

func TestDisk_Ensure_RefetchesZeroByteArtifact(t *testing.T) {
	root := t.TempDir()
	dl := &fakeDownloader{data: []byte("real-bytes")}
	disk := NewDisk(root, dl)
	key := Key{DetectorID: "det-3", Role: RoleOODD}

	dir := filepath.Join(root, key.DetectorID, string(key.Role))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "model.onnx"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := disk.Ensure(context.Background(), key, "images/model.onnx"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dl.calls != 1 {
		t.Errorf("expected corrupt zero-byte artifact to trigger a re-download, got %d calls", dl.calls)
	}
}

func TestDisk_Ensure_EmptyDownloadIsError(t *testing.T) {
	root := t.TempDir()
	dl := &fakeDownloader{data: nil}
	disk := NewDisk(root, dl)

	_, err := disk.Ensure(context.Background(), Key{DetectorID: "det-4", Role: RolePrimary}, "images/model.onnx")
	if err == nil {
		t.Fatal("expected error for empty downloaded artifact")
	}
}
