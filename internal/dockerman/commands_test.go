package dockerman

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/fabrik/internal/envman"
	"github.com/p-arndt/fabrik/protocol"
)

type tarEntry struct {
	name string
	body string
}

// readTar consumes an archive the way the engine's CopyTo would.
func readTar(t *testing.T, r io.Reader) []tarEntry {
	t.Helper()
	var entries []tarEntry
	tr := tar.NewReader(r)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return entries
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		entries = append(entries, tarEntry{name: h.Name, body: string(body)})
	}
}

func singleFileTar(t *testing.T, name, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{Typeflag: tar.TypeReg, Name: name, Size: int64(len(body)), Mode: 0o644}))
	_, err := tw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func payloadServer(t *testing.T, chunked bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chunked {
			_, _ = w.Write([]byte("model "))
			w.(http.Flusher).Flush()
			_, _ = w.Write([]byte("weights"))
			return
		}
		_, _ = w.Write([]byte("model weights"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadRawWrapsSingleFile(t *testing.T) {
	for _, chunked := range []bool{false, true} {
		name := "content-length"
		if chunked {
			name = "chunked"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.createSession(t, "c1")
			srv := payloadServer(t, chunked)

			var entries []tarEntry
			f.engine.On("CopyTo", mock.Anything, "c1", "/workspace/in", mock.Anything).
				Run(func(args mock.Arguments) {
					entries = readTar(t, args.Get(3).(io.Reader))
				}).
				Return(nil)

			results, err := f.m.UpdateSession(context.Background(), "c1", []protocol.Command{
				protocol.DownloadFile(srv.URL+"/weights.bin", "/workspace/in/model.bin", protocol.FormatRaw),
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"OK"}, results)
			require.Len(t, entries, 1)
			assert.Equal(t, "model.bin", entries[0].name)
			assert.Equal(t, "model weights", entries[0].body)

			sess, _ := f.m.deploys.Get("c1")
			leftovers, err := os.ReadDir(sess.ws.Path())
			require.NoError(t, err)
			assert.Empty(t, leftovers, "spooled payload must be removed")
		})
	}
}

func TestDownloadTarPassesArchiveThrough(t *testing.T) {
	f := newFixture(t)
	f.createSession(t, "c1")
	archive := singleFileTar(t, "data/a.txt", "A")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	var got []byte
	f.engine.On("CopyTo", mock.Anything, "c1", "/workspace", mock.Anything).
		Run(func(args mock.Arguments) {
			got, _ = io.ReadAll(args.Get(3).(io.Reader))
		}).
		Return(nil)

	_, err := f.m.UpdateSession(context.Background(), "c1", []protocol.Command{
		protocol.DownloadFile(srv.URL, "/workspace", protocol.FormatTar),
	})
	require.NoError(t, err)
	assert.Equal(t, archive, got)
}

func TestDownloadSourceFailure(t *testing.T) {
	f := newFixture(t)
	f.createSession(t, "c1")
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	results, err := f.m.UpdateSession(context.Background(), "c1", []protocol.Command{
		protocol.DownloadFile(srv.URL, "/workspace/x", protocol.FormatRaw),
		protocol.AddTags("never"),
	})
	assert.ErrorIs(t, err, envman.ErrTransfer)
	require.Len(t, results, 1)
	assert.Contains(t, results[0], "404")
	f.engine.AssertNotCalled(t, "CopyTo", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadRaw(t *testing.T) {
	f := newFixture(t)
	f.createSession(t, "c1")

	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f.engine.On("CopyFrom", mock.Anything, "c1", "/workspace/out/result.txt").
		Return(io.NopCloser(bytes.NewReader(singleFileTar(t, "result.txt", "42"))), nil)

	uri := srv.URL + "/result"
	results, err := f.m.UpdateSession(context.Background(), "c1", []protocol.Command{
		protocol.UploadFile(uri, "/workspace/out/result.txt", protocol.FormatRaw),
	})
	require.NoError(t, err)
	assert.Equal(t, "42", received)
	assert.Equal(t, []string{`"` + uri + `" file uploaded`}, results)
}

func TestUploadTarForwardsArchive(t *testing.T) {
	f := newFixture(t)
	f.createSession(t, "c1")
	archive := singleFileTar(t, "out/result.txt", "42")

	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	f.engine.On("CopyFrom", mock.Anything, "c1", "/workspace/out").
		Return(io.NopCloser(bytes.NewReader(archive)), nil)

	_, err := f.m.UpdateSession(context.Background(), "c1", []protocol.Command{
		protocol.UploadFile(srv.URL, "/workspace/out", protocol.FormatTar),
	})
	require.NoError(t, err)
	assert.Equal(t, archive, received)
}

func TestUploadRejectedByDestination(t *testing.T) {
	f := newFixture(t)
	f.createSession(t, "c1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f.engine.On("CopyFrom", mock.Anything, "c1", "/workspace/r.txt").
		Return(io.NopCloser(bytes.NewReader(singleFileTar(t, "r.txt", "x"))), nil)

	results, err := f.m.UpdateSession(context.Background(), "c1", []protocol.Command{
		protocol.UploadFile(srv.URL, "/workspace/r.txt", protocol.FormatRaw),
	})
	assert.ErrorIs(t, err, envman.ErrTransfer)
	require.Len(t, results, 1)
	assert.True(t, strings.Contains(results[0], "unsuccessful file upload: 403"), results[0])
}
