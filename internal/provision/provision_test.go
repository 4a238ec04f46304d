package provision

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/fabrik/internal/envman"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Typeflag: tar.TypeReg, Name: name, Size: int64(len(body)), Mode: 0o644}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func TestStreamCopiesEverything(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), ChunkSize/2)
	var got bytes.Buffer
	err := Stream(context.Background(), bytes.NewReader(payload), func(ctx context.Context, r io.Reader) error {
		_, err := io.Copy(&got, r)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, payload, got.Bytes())
}

// countingReader never ends and counts how many reads were served.
type countingReader struct{ reads atomic.Int64 }

func (c *countingReader) Read(p []byte) (int, error) {
	c.reads.Add(1)
	return len(p), nil
}

func TestStreamIsBounded(t *testing.T) {
	src := &countingReader{}
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- Stream(context.Background(), src, func(ctx context.Context, r io.Reader) error {
			<-release
			return nil
		})
	}()

	time.Sleep(50 * time.Millisecond)
	// PipeDepth buffered chunks plus the one blocked on send.
	assert.LessOrEqual(t, src.reads.Load(), int64(PipeDepth+1))

	close(release)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish after sink returned")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("source broke") }

func TestStreamSourceErrorReachesSink(t *testing.T) {
	var sinkErr error
	err := Stream(context.Background(), failingReader{}, func(ctx context.Context, r io.Reader) error {
		_, sinkErr = io.Copy(io.Discard, r)
		return sinkErr
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source broke")
	assert.Error(t, sinkErr, "sink must not see a clean EOF")
}

func TestStreamSinkError(t *testing.T) {
	err := Stream(context.Background(), &countingReader{}, func(ctx context.Context, r io.Reader) error {
		return errors.New("sink full")
	})
	assert.EqualError(t, err, "sink full")
}

// stalledSource blocks every Read until it is closed, like an HTTP body
// whose peer has gone quiet.
type stalledSource struct {
	closed chan struct{}
	once   sync.Once
}

func newStalledSource() *stalledSource { return &stalledSource{closed: make(chan struct{})} }

func (s *stalledSource) Read([]byte) (int, error) {
	<-s.closed
	return 0, io.ErrClosedPipe
}

func (s *stalledSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestStreamSinkErrorUnblocksStalledSource(t *testing.T) {
	src := newStalledSource()
	done := make(chan error, 1)
	go func() {
		done <- Stream(context.Background(), src, func(ctx context.Context, r io.Reader) error {
			return errors.New("target directory missing")
		})
	}()

	select {
	case err := <-done:
		assert.EqualError(t, err, "target directory missing")
	case <-time.After(2 * time.Second):
		t.Fatal("stream still blocked after the sink failed")
	}
	select {
	case <-src.closed:
	default:
		t.Fatal("stalled source was not closed")
	}
}

func TestStreamCancelUnblocksStalledSource(t *testing.T) {
	src := newStalledSource()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Stream(ctx, src, func(ctx context.Context, r io.Reader) error {
			_, err := io.Copy(io.Discard, r)
			return err
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream still blocked after cancel")
	}
}

// closeTracker records whether Stream closed its source.
type closeTracker struct {
	io.Reader
	closed atomic.Bool
}

func (c *closeTracker) Close() error {
	c.closed.Store(true)
	return nil
}

func TestStreamLeavesSourceOpenOnSuccess(t *testing.T) {
	src := &closeTracker{Reader: strings.NewReader("payload")}
	var got bytes.Buffer
	err := Stream(context.Background(), src, func(ctx context.Context, r io.Reader) error {
		_, err := io.Copy(&got, r)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "payload", got.String())
	assert.False(t, src.closed.Load())
}

func TestTarSingleFileRoundTrip(t *testing.T) {
	body := "hello world"
	rc := TarSingleFile("greeting.txt", int64(len(body)), strings.NewReader(body))
	defer rc.Close()

	r, size, err := UntarSingleFile(rc)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), size)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
}

func TestTarSingleFileShortSource(t *testing.T) {
	rc := TarSingleFile("x", 100, strings.NewReader("short"))
	_, err := io.ReadAll(rc)
	assert.Error(t, err)
}

func TestUntarSingleFileSkipsDirectories(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Typeflag: tar.TypeDir, Name: "out/", Mode: 0o755}))
	require.NoError(t, tw.WriteHeader(&tar.Header{Typeflag: tar.TypeReg, Name: "out/a.txt", Size: 1, Mode: 0o644}))
	_, _ = tw.Write([]byte("a"))
	require.NoError(t, tw.Close())

	r, size, err := UntarSingleFile(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
	got, _ := io.ReadAll(r)
	assert.Equal(t, "a", string(got))
}

func TestUntarSingleFileEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, tar.NewWriter(&buf).Close())
	_, _, err := UntarSingleFile(&buf)
	assert.ErrorIs(t, err, envman.ErrTransfer)
}

func TestExtractTar(t *testing.T) {
	dir := t.TempDir()
	data := buildTar(t, map[string]string{"a.txt": "A", "sub/b.txt": "B"})
	require.NoError(t, ExtractTar(bytes.NewReader(data), dir))

	a, err := os.ReadFile(filepath.Join(dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(a))
	b, err := os.ReadFile(filepath.Join(dir, "sub", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "B", string(b))
}

func TestExtractTarRejectsEscape(t *testing.T) {
	dir := t.TempDir()
	data := buildTar(t, map[string]string{"../evil.txt": "x"})
	assert.Error(t, ExtractTar(bytes.NewReader(data), dir))
	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "evil.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestTarPathRoundTrip(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "out", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "out", "nested", "r.txt"), []byte("result"), 0o644))

	dst := t.TempDir()
	rc := TarPath(filepath.Join(src, "out"))
	defer rc.Close()
	require.NoError(t, ExtractTar(rc, dst))

	got, err := os.ReadFile(filepath.Join(dst, "out", "nested", "r.txt"))
	require.NoError(t, err)
	assert.Equal(t, "result", string(got))
}

func TestDecompress(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte("plain text"))
	require.NoError(t, zw.Close())

	r, err := Decompress(&gz)
	require.NoError(t, err)
	got, _ := io.ReadAll(r)
	assert.Equal(t, "plain text", string(got))

	r, err = Decompress(strings.NewReader("not compressed"))
	require.NoError(t, err)
	got, _ = io.ReadAll(r)
	assert.Equal(t, "not compressed", string(got))
}

func TestSecureJoin(t *testing.T) {
	root := "/srv/ws"
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"a/b.txt", "/srv/ws/a/b.txt", false},
		{"/workspace/data", "/srv/ws/workspace/data", false},
		{"/../../etc/passwd", "/srv/ws/etc/passwd", false},
		{".", "/srv/ws", false},
		{"../etc", "", true},
		{"a/../../etc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := SecureJoin(root, tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.tar")
	require.NoError(t, os.WriteFile(path, []byte("image bytes"), 0o644))

	for _, algo := range []string{"blake3", "sha256"} {
		t.Run(algo, func(t *testing.T) {
			digest, err := ComputeDigest(algo, strings.NewReader("image bytes"))
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(digest, algo+":"))
			assert.NoError(t, VerifyFile(path, digest))
			assert.NoError(t, VerifyFile(path, strings.ToUpper(algo)+":"+strings.TrimPrefix(digest, algo+":")))
		})
	}

	err := VerifyFile(path, "sha256:"+strings.Repeat("0", 64))
	assert.ErrorIs(t, err, envman.ErrTransfer)

	assert.Error(t, VerifyFile(path, "md5:abc"))
	assert.Error(t, VerifyFile(path, "nodigest"))
}

func TestDownloadStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), testLogger())
	rc, size, err := c.DownloadStream(context.Background(), srv.URL+"/file")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int64(7), size)
	got, _ := io.ReadAll(rc)
	assert.Equal(t, "payload", string(got))

	_, _, err = c.DownloadStream(context.Background(), srv.URL+"/missing")
	assert.ErrorIs(t, err, envman.ErrTransfer)
}

func TestPut(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/denied" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		assert.Equal(t, http.MethodPut, r.Method)
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), testLogger())
	msg, err := c.Put(context.Background(), srv.URL+"/out", strings.NewReader("result"), 6)
	require.NoError(t, err)
	assert.Equal(t, "result", string(received))
	assert.Contains(t, msg, "file uploaded")

	_, err = c.Put(context.Background(), srv.URL+"/denied", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, envman.ErrTransfer)
	assert.Contains(t, err.Error(), "unsuccessful file upload")
}
