package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/fabrik/internal/testutil"
	"github.com/p-arndt/fabrik/protocol"
)

const testAPIKey = "fk-integration-test"

type testClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (c *testClient) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (c *testClient) update(t *testing.T, id string, cmds ...protocol.Command) (int, map[string]any) {
	t.Helper()
	code, data := c.do(t, "POST", "/v1/envs/hd/sessions/"+id+"/commands", map[string]any{"commands": cmds})
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return code, out
}

// startDaemon runs serve with only the host-direct environment on a
// loopback listener.
func startDaemon(t *testing.T) *testClient {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	cfg := testutil.TestConfig(t)
	cfg.APIKey = testAPIKey
	cfg.Docker.Enabled = false

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, cfg, ln, testutil.DiscardLogger()) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("daemon did not shut down")
		}
	})

	c := &testClient{baseURL: "http://" + ln.Addr().String(), apiKey: testAPIKey, client: &http.Client{Timeout: 10 * time.Second}}
	require.Eventually(t, func() bool {
		resp, err := c.client.Get(c.baseURL + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	return c
}

func TestServe_AuthRequired(t *testing.T) {
	c := startDaemon(t)

	noAuth := &testClient{baseURL: c.baseURL, client: c.client}
	code, _ := noAuth.do(t, "GET", "/v1/envs", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, data := c.do(t, "GET", "/v1/envs", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `["hd"]`, string(data))
}

func TestServe_SessionLifecycle(t *testing.T) {
	c := startDaemon(t)

	var (
		mu       sync.Mutex
		uploaded []byte
	)
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte("payload from hub\n"))
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			mu.Lock()
			uploaded = data
			mu.Unlock()
		}
	}))
	defer files.Close()

	code, data := c.do(t, "POST", "/v1/sessions", protocol.CreateSession{EnvType: "hd"})
	require.Equal(t, http.StatusCreated, code, string(data))
	var created struct{ ID string }
	require.NoError(t, json.Unmarshal(data, &created))
	require.NotEmpty(t, created.ID)

	code, out := c.update(t, created.ID,
		protocol.Open(),
		protocol.DownloadFile(files.URL+"/in.txt", "in/in.txt", protocol.FormatRaw),
		protocol.Exec("sh", "-c", "tr a-z A-Z < in/in.txt > out.txt && cat out.txt"),
		protocol.UploadFile(files.URL+"/out.txt", "out.txt", protocol.FormatRaw),
		protocol.AddTags("e2e"),
	)
	require.Equal(t, http.StatusOK, code, out)
	results := out["results"].([]any)
	require.Len(t, results, 5)
	assert.Equal(t, "OK", results[0])
	assert.Equal(t, "OK", results[1])
	assert.Equal(t, "PAYLOAD FROM HUB\n", results[2])
	assert.Contains(t, results[3], "file uploaded")
	mu.Lock()
	assert.Equal(t, "PAYLOAD FROM HUB\n", string(uploaded))
	mu.Unlock()

	code, data = c.do(t, "GET", "/v1/envs/hd/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	var infos []protocol.SessionInfo
	require.NoError(t, json.Unmarshal(data, &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, protocol.StatusRunning, infos[0].Status)
	assert.Equal(t, []string{"e2e"}, infos[0].Tags)

	// a non-zero exit is still a result; the unknown child stops the batch
	code, out = c.update(t, created.ID,
		protocol.AddTags("before"),
		protocol.Exec("sh", "-c", "echo nope; exit 3"),
		protocol.Stop("ghost-child"),
		protocol.AddTags("after"),
	)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.EqualValues(t, 2, out["failed_index"])
	assert.Equal(t, "invalid command: no such child ghost-child", out["error"])
	require.Len(t, out["results"], 3)
	assert.Equal(t, "nope\n", out["results"].([]any)[1])

	code, data = c.do(t, "GET", "/v1/envs/hd/sessions", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(data, &infos))
	assert.Equal(t, []string{"before", "e2e"}, infos[0].Tags)

	code, data = c.do(t, "DELETE", "/v1/envs/hd/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"message":"done"}`, string(data))

	code, _ = c.do(t, "DELETE", "/v1/envs/hd/sessions/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestServe_UnknownSessionAndEnv(t *testing.T) {
	c := startDaemon(t)

	code, out := c.update(t, "ghost", protocol.Open())
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, []any{"Error: no such session ghost"}, out["details"].(map[string]any)["results"])

	code, _ = c.do(t, "GET", "/v1/envs/docker/sessions", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = c.do(t, "POST", "/v1/sessions", protocol.CreateSession{EnvType: "docker"})
	assert.Equal(t, http.StatusNotFound, code)
}
