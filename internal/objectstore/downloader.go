package objectstore

import "context"

// Downloader adapts Gateway to modelcache.Disk's Downloader interface
// (kept here rather than in modelcache to avoid that package importing
// objectstore just for a one-method shim).
type Downloader struct {
	Gateway *Gateway
}

func (d Downloader) Download(ctx context.Context, path string) ([]byte, error) {
	return d.Gateway.DownloadPath(ctx, path)
}
