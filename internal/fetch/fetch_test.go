package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/1003xuexue/mobile-ai-bench/internal/checksum"
	"github.com/1003xuexue/mobile-ai-bench/internal/testutil"
)

func digestOf(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "digest-probe")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	sum, err := checksum.Sum(p)
	require.NoError(t, err)
	return sum
}

func TestFetchLocal(t *testing.T) {
	t.Run("Verified Path Returned As Is", func(t *testing.T) {
		local := filepath.Join(t.TempDir(), "model.pb")
		require.NoError(t, os.WriteFile(local, []byte("weights"), 0o644))

		f := NewFetcher(&testutil.FakeRunner{}, nil, t.TempDir(), zaptest.NewLogger(t))
		got, err := f.Fetch(context.Background(), local, digestOf(t, "weights"))
		require.NoError(t, err)
		assert.Equal(t, local, got)
	})

	t.Run("Mismatch Is Fatal", func(t *testing.T) {
		local := filepath.Join(t.TempDir(), "model.pb")
		require.NoError(t, os.WriteFile(local, []byte("weights"), 0o644))

		f := NewFetcher(&testutil.FakeRunner{}, nil, t.TempDir(), zaptest.NewLogger(t))
		_, err := f.Fetch(context.Background(), local, "0000")
		require.ErrorIs(t, err, checksum.ErrMismatch)
	})
}

func TestFetchHTTP(t *testing.T) {
	const payload = "model-bytes"
	sum := digestOf(t, payload)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	t.Run("Downloads And Verifies", func(t *testing.T) {
		hits.Store(0)
		outDir := t.TempDir()
		f := NewFetcher(&testutil.FakeRunner{}, nil, outDir, zaptest.NewLogger(t))

		got, err := f.Fetch(context.Background(), srv.URL+"/models/mobilenet_v1.pb", sum)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(outDir, "mobilenet_v1.pb"), got)
		assert.FileExists(t, got)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("Fresh Cache Skips Download", func(t *testing.T) {
		hits.Store(0)
		outDir := t.TempDir()
		f := NewFetcher(&testutil.FakeRunner{}, nil, outDir, zaptest.NewLogger(t))

		_, err := f.Fetch(context.Background(), srv.URL+"/models/mobilenet_v1.pb", sum)
		require.NoError(t, err)
		_, err = f.Fetch(context.Background(), srv.URL+"/models/mobilenet_v1.pb", sum)
		require.NoError(t, err)
		assert.Equal(t, int32(1), hits.Load(), "second fetch must hit the cache")
	})

	t.Run("Checksum Mismatch After Download", func(t *testing.T) {
		f := NewFetcher(&testutil.FakeRunner{}, nil, t.TempDir(), zaptest.NewLogger(t))
		_, err := f.Fetch(context.Background(), srv.URL+"/models/mobilenet_v1.pb", "0000")
		require.ErrorIs(t, err, checksum.ErrMismatch)
	})

	t.Run("Server Error", func(t *testing.T) {
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer bad.Close()

		f := NewFetcher(&testutil.FakeRunner{}, nil, t.TempDir(), zaptest.NewLogger(t))
		_, err := f.Fetch(context.Background(), bad.URL+"/missing.pb", sum)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}

func TestFetchS3(t *testing.T) {
	t.Run("No Client Configured", func(t *testing.T) {
		f := NewFetcher(&testutil.FakeRunner{}, nil, t.TempDir(), zaptest.NewLogger(t))
		_, err := f.Fetch(context.Background(), "s3://models/mobilenet_v1.pb", "aaa")
		require.ErrorIs(t, err, ErrNoS3Client)
	})

	t.Run("Split Source", func(t *testing.T) {
		bucket, key, err := splitS3("s3://models/release/mobilenet_v1.pb")
		require.NoError(t, err)
		assert.Equal(t, "models", bucket)
		assert.Equal(t, "release/mobilenet_v1.pb", key)

		_, _, err = splitS3("s3://models")
		require.Error(t, err)
		_, _, err = splitS3("s3:///key-only")
		require.Error(t, err)
	})
}

func TestPrepareDataset(t *testing.T) {
	t.Run("Local Directory Passthrough", func(t *testing.T) {
		dir := t.TempDir()
		runner := &testutil.FakeRunner{}
		f := NewFetcher(runner, nil, t.TempDir(), zaptest.NewLogger(t))

		got, err := f.PrepareDataset(context.Background(), dir, "")
		require.NoError(t, err)
		assert.Equal(t, dir, got)
		assert.Empty(t, runner.Calls)
	})

	t.Run("Remote Archive Is Unpacked", func(t *testing.T) {
		const payload = "zip-bytes"
		sum := digestOf(t, payload)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(payload))
		}))
		defer srv.Close()

		outDir := t.TempDir()
		runner := &testutil.FakeRunner{}
		f := NewFetcher(runner, nil, outDir, zaptest.NewLogger(t))

		got, err := f.PrepareDataset(context.Background(), srv.URL+"/imagenet_less.zip", sum)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(outDir, "imagenet_less"), got)

		unzips := runner.CallsMatching("unzip -o")
		require.Len(t, unzips, 1)
		assert.Contains(t, unzips[0], "-d "+outDir)
	})
}
