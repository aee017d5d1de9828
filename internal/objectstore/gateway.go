// Package objectstore implements the Object Store Gateway (C1): upload,
// download, delete, and sign operations over an opaque
// "{container}/{name}" path, backed by local disk with HMAC-signed
// bearer URLs. Credential/backend resolution is an explicit strategy
// selected once at construction (SPEC_FULL.md §4, resolving the
// "implicit fallback between env-derived credentials" design note).
package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/technosupport/intellioptics/internal/ioerrors"
)

// Gateway implements C1's four operations against a local root
// directory, one subdirectory per container. URL signing uses the same
// HMAC-SHA256 canonical-string construction as hlsd's token scheme.
type Gateway struct {
	root      string
	signerKey []byte
	baseURL   string
}

func New(root string, signerKey []byte, baseURL string) *Gateway {
	return &Gateway{root: root, signerKey: signerKey, baseURL: baseURL}
}

func (g *Gateway) containerDir(container string) string {
	return filepath.Join(g.root, container)
}

// Upload writes bytes under container/name, creating the container
// directory lazily, and returns the persisted path
// "{container}/{name}".
func (g *Gateway) Upload(ctx context.Context, container, name string, data []byte, contentType string) (string, error) {
	dir := g.containerDir(container)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ioerrors.New(ioerrors.EStorageFailure, "objectstore.Upload", "failed to create container", err)
	}
	full := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", ioerrors.New(ioerrors.EStorageFailure, "objectstore.Upload", "failed to create blob directory", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", ioerrors.New(ioerrors.EStorageFailure, "objectstore.Upload", "failed to write blob", err)
	}
	// content_type is recorded alongside for Download's benefit; a real
	// blob store would carry this as object metadata.
	_ = os.WriteFile(full+".contenttype", []byte(contentType), 0o644)
	return fmt.Sprintf("%s/%s", container, name), nil
}

// Download returns the bytes stored at container/name.
func (g *Gateway) Download(ctx context.Context, container, name string) ([]byte, error) {
	full := filepath.Join(g.containerDir(container), name)
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ioerrors.New(ioerrors.ENotFound, "objectstore.Download", "blob not found", err)
		}
		return nil, ioerrors.New(ioerrors.EStorageFailure, "objectstore.Download", "failed to read blob", err)
	}
	return data, nil
}

// DownloadPath parses an opaque "{container}/{name}" path and downloads
// it — a convenience used by callers (like modelcache.Disk) that only
// carry the persisted path string, not the split container/name.
func (g *Gateway) DownloadPath(ctx context.Context, path string) ([]byte, error) {
	container, name, ok := splitPath(path)
	if !ok {
		return nil, ioerrors.New(ioerrors.EBadInput, "objectstore.DownloadPath", "malformed blob path", nil)
	}
	return g.Download(ctx, container, name)
}

// Delete removes container/name. A missing blob is success with
// existed=false; every other error propagates (§4.1).
func (g *Gateway) Delete(ctx context.Context, container, name string) (existed bool, err error) {
	full := filepath.Join(g.containerDir(container), name)
	err = os.Remove(full)
	if err == nil {
		os.Remove(full + ".contenttype")
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, ioerrors.New(ioerrors.EStorageFailure, "objectstore.Delete", "failed to delete blob", err)
}

// Sign returns a bearer URL for container/name valid for ttl, using an
// HMAC-SHA256 signature over a canonical string, mirroring
// hlsd.ValidateHLSToken's construction.
func (g *Gateway) Sign(ctx context.Context, container, name string, ttl time.Duration) (string, error) {
	exp := time.Now().Add(ttl).Unix()
	canonical := fmt.Sprintf("blob|%s|%s|%d", container, name, exp)
	h := hmac.New(sha256.New, g.signerKey)
	h.Write([]byte(canonical))
	sig := hex.EncodeToString(h.Sum(nil))

	return fmt.Sprintf("%s/%s/%s?exp=%d&sig=%s", g.baseURL, container, name, exp, sig), nil
}

// VerifySignedURL validates a URL produced by Sign, for the local
// HTTP handler that serves signed blob reads.
func (g *Gateway) VerifySignedURL(container, name string, exp int64, sig string) error {
	if time.Now().Unix() > exp {
		return ioerrors.New(ioerrors.EBadInput, "objectstore.VerifySignedURL", "signature expired", nil)
	}
	canonical := fmt.Sprintf("blob|%s|%s|%d", container, name, exp)
	h := hmac.New(sha256.New, g.signerKey)
	h.Write([]byte(canonical))
	expected := hex.EncodeToString(h.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return ioerrors.New(ioerrors.EBadInput, "objectstore.VerifySignedURL", "signature mismatch", nil)
	}
	return nil
}

func splitPath(path string) (container, name string, ok bool) {
	idx := strings.Index(path, "/")
	if idx < 0 {
		return "", "", false
	}
	return path[:idx], path[idx+1:], true
}

// SplitPath exposes splitPath to callers outside this package that
// only carry a persisted "{container}/{name}" path (e.g. the Query
// Pipeline's delete cascade).
func SplitPath(path string) (container, name string, err error) {
	c, n, ok := splitPath(path)
	if !ok {
		return "", "", ioerrors.New(ioerrors.EBadInput, "objectstore.SplitPath", "malformed blob path", nil)
	}
	return c, n, nil
}
