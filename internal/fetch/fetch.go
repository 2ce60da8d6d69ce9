// Package fetch acquires benchmark artifacts: model files referenced by the
// catalog and the precision dataset archive. Remote sources are downloaded
// into a local cache directory gated on checksum freshness, so repeated fleet
// runs reuse what they already have.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/1003xuexue/mobile-ai-bench/internal/checksum"
	"github.com/1003xuexue/mobile-ai-bench/internal/command"
)

// ErrNoS3Client reports an s3:// source with no object-store client wired.
var ErrNoS3Client = errors.New("no S3 client configured")

// Fetcher resolves artifact sources to verified local files.
type Fetcher struct {
	runner command.Runner
	s3     *minio.Client
	httpc  *http.Client
	outDir string
	logger *zap.Logger
}

// NewFetcher creates a fetcher caching downloads under outDir. s3 may be nil
// when no object store is configured; s3:// sources then fail.
func NewFetcher(runner command.Runner, s3 *minio.Client, outDir string, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		runner: runner,
		s3:     s3,
		httpc:  &http.Client{Timeout: 10 * time.Minute},
		outDir: outDir,
		logger: logger.Named("fetch"),
	}
}

// Fetch resolves source to a local file whose digest matches sum. Local
// sources are verified in place. Remote sources are downloaded only when the
// cached copy is missing or stale, and always verified after download.
func (f *Fetcher) Fetch(ctx context.Context, source, sum string) (string, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return f.fetchHTTP(ctx, source, sum)
	case strings.HasPrefix(source, "s3://"):
		return f.fetchS3(ctx, source, sum)
	default:
		if err := checksum.Verify(source, sum); err != nil {
			return "", err
		}
		return source, nil
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, source, sum string) (string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse source URL %s: %w", source, err)
	}

	local, fresh, err := f.cachePath(path.Base(u.Path), sum)
	if err != nil || fresh {
		return local, err
	}

	f.logger.Info("Downloading artifact",
		zap.String("url", source),
		zap.String("local", local))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", source, err)
	}
	resp, err := f.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: status %s", source, resp.Status)
	}
	if err := writeTo(local, resp.Body); err != nil {
		return "", err
	}

	if err := checksum.Verify(local, sum); err != nil {
		return "", err
	}
	return local, nil
}

func (f *Fetcher) fetchS3(ctx context.Context, source, sum string) (string, error) {
	if f.s3 == nil {
		return "", fmt.Errorf("%w: cannot fetch %s", ErrNoS3Client, source)
	}
	bucket, key, err := splitS3(source)
	if err != nil {
		return "", err
	}

	local, fresh, err := f.cachePath(path.Base(key), sum)
	if err != nil || fresh {
		return local, err
	}

	f.logger.Info("Downloading artifact from object store",
		zap.String("bucket", bucket),
		zap.String("key", key),
		zap.String("local", local))

	if err := f.s3.FGetObject(ctx, bucket, key, local, minio.GetObjectOptions{}); err != nil {
		return "", fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	if err := checksum.Verify(local, sum); err != nil {
		return "", err
	}
	return local, nil
}

// PrepareDataset resolves the precision input dataset. A local directory is
// used as-is. A remote archive is downloaded under the checksum gate and
// unpacked; the extracted directory, named after the archive, is returned.
func (f *Fetcher) PrepareDataset(ctx context.Context, source, sum string) (string, error) {
	if !strings.HasPrefix(source, "http://") &&
		!strings.HasPrefix(source, "https://") &&
		!strings.HasPrefix(source, "s3://") {
		return source, nil
	}

	archive, err := f.Fetch(ctx, source, sum)
	if err != nil {
		return "", err
	}

	f.logger.Info("Unpacking dataset", zap.String("archive", archive))
	if _, err := f.runner.Run(ctx, "unzip", "-o", archive, "-d", f.outDir); err != nil {
		return "", fmt.Errorf("failed to unpack %s: %w", archive, err)
	}

	name := strings.TrimSuffix(filepath.Base(archive), filepath.Ext(archive))
	return filepath.Join(f.outDir, name), nil
}

// cachePath resolves the cache location for name and reports whether the
// cached copy already matches sum.
func (f *Fetcher) cachePath(name, sum string) (string, bool, error) {
	if err := os.MkdirAll(f.outDir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create cache directory: %w", err)
	}
	local := filepath.Join(f.outDir, name)
	if checksum.IsFresh(local, sum) {
		f.logger.Debug("Cached artifact is fresh", zap.String("local", local))
		return local, true, nil
	}
	return local, false, nil
}

func splitS3(source string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(source, "s3://")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed S3 source %q, want s3://bucket/key", source)
	}
	return parts[0], parts[1], nil
}

func writeTo(local string, r io.Reader) error {
	out, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", local, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("failed to write %s: %w", local, err)
	}
	return nil
}
