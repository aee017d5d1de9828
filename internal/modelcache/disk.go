package modelcache

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	"github.com/technosupport/intellioptics/internal/ioerrors"
)

// Downloader fetches a model artifact's bytes from the Object Store
// Gateway (C1), given the opaque "{container}/{blob_name}" path.
type Downloader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

// Disk is the on-disk artifact cache backing the in-memory session
// cache: "{root}/{detector_id}/{role}/model.onnx", downloaded from C1 on
// miss with a tempfile-rename for atomicity. A zero-byte file is treated
// as corrupt and re-fetched. Optionally verifies a stored-size sidecar
// (SPEC_FULL.md §4's resolution of the "integrity check" open design
// note).
type Disk struct {
	root       string
	downloader Downloader
}

func NewDisk(root string, downloader Downloader) *Disk {
	return &Disk{root: root, downloader: downloader}
}

// Ensure returns a local path containing the artifact's bytes,
// downloading from blobPath via the Downloader if the local cache is
// missing, empty, or fails its size-sidecar check.
func (d *Disk) Ensure(ctx context.Context, key Key, blobPath string) (string, error) {
	dir := filepath.Join(d.root, key.DetectorID, string(key.Role))
	localPath := filepath.Join(dir, "model.onnx")
	sizePath := localPath + ".size"

	if valid(localPath, sizePath) {
		return localPath, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ioerrors.New(ioerrors.EStorageFailure, "modelcache.Ensure", "mkdir failed", err)
	}

	data, err := d.downloader.Download(ctx, blobPath)
	if err != nil {
		return "", ioerrors.New(ioerrors.EStorageFailure, "modelcache.Ensure", "download failed", err)
	}
	if len(data) == 0 {
		return "", ioerrors.New(ioerrors.EStorageFailure, "modelcache.Ensure", "downloaded artifact is empty", nil)
	}

	tmp, err := os.CreateTemp(dir, "model-*.onnx.tmp")
	if err != nil {
		return "", ioerrors.New(ioerrors.EStorageFailure, "modelcache.Ensure", "tempfile create failed", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", ioerrors.New(ioerrors.EStorageFailure, "modelcache.Ensure", "tempfile write failed", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", ioerrors.New(ioerrors.EStorageFailure, "modelcache.Ensure", "tempfile close failed", err)
	}
	if err := os.Rename(tmpName, localPath); err != nil {
		os.Remove(tmpName)
		return "", ioerrors.New(ioerrors.EStorageFailure, "modelcache.Ensure", "atomic rename failed", err)
	}
	if err := os.WriteFile(sizePath, []byte(strconv.Itoa(len(data))), 0o644); err != nil {
		// Sidecar is best-effort: the zero-byte check still protects
		// correctness without it.
		_ = err
	}

	return localPath, nil
}

func valid(localPath, sizePath string) bool {
	info, err := os.Stat(localPath)
	if err != nil || info.Size() == 0 {
		return false
	}
	sizeBytes, err := os.ReadFile(sizePath)
	if err != nil {
		return true // no sidecar recorded: non-empty file is sufficient proof (spec.md §4.3)
	}
	want, err := strconv.ParseInt(string(sizeBytes), 10, 64)
	if err != nil {
		return true
	}
	return info.Size() == want
}
