package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"itera/internal/http/handlers"
	"itera/internal/jobstore"
	"itera/internal/metrics"
	"itera/internal/providers/image"
	"itera/internal/providers/mesh"
	"itera/internal/providers/prompt"
	"itera/internal/service"
	"itera/internal/storage"
)

type testServer struct {
	handler http.Handler
	blobs   *storage.FileStore
	now     time.Time
}

func newTestServer(t *testing.T, proxyHosts []string, configure ...func(*handlers.Options)) *testServer {
	t.Helper()
	ts := &testServer{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return ts.now }

	blobs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ts.blobs = blobs

	meshes, err := mesh.New(mesh.BackendMock, mesh.Deps{
		Jobs:         jobstore.NewMemory(),
		Blobs:        blobs,
		Now:          clock,
		MockDuration: 2 * time.Second,
	})
	require.NoError(t, err)

	m := metrics.New()
	svc := service.New(service.Options{
		Briefer: prompt.NewOpenAIBriefer(prompt.OpenAIOptions{}),
		Images:  image.NewMock(),
		Meshes:  meshes,
		Metrics: m,
		Now:     clock,
	})
	opts := handlers.Options{
		Service:    svc,
		Blobs:      blobs,
		Metrics:    m,
		ProxyHosts: proxyHosts,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	app := handlers.NewApp(opts)
	ts.handler = NewRouter(app, Options{
		Logger:          zerolog.Nop(),
		Metrics:         m,
		AllowedOrigins:  []string{"*"},
		RateLimitPerMin: 1000,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t, nil)
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"brief without input", http.MethodPost, "/brief", `{}`},
		{"edit without instruction", http.MethodPost, "/edit", `{"description":"a mug"}`},
		{"generate without input", http.MethodPost, "/generate", `{"format":"glb"}`},
		{"generate unknown format", http.MethodPost, "/generate", `{"prompt":"a mug","format":"dae"}`},
		{"image without prompt", http.MethodPost, "/image-generate", `{}`},
		{"export without model", http.MethodPost, "/export", `{}`},
		{"malformed json", http.MethodPost, "/brief", `{`},
		{"proxy without url", http.MethodGet, "/proxy", ``},
		{"proxy with file url", http.MethodGet, "/proxy?url=" + url.QueryEscape("file:///etc/passwd"), ``},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, tc.method, tc.path, tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			assert.Equal(t, "bad_request", body["code"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestBriefAndEditFallbacks(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/brief", `{"prompt":" a red mug "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, " a red mug ", decodeBody(t, rec)["brief"])

	rec = ts.do(t, http.MethodPost, "/edit", `{"description":"a red mug","instruction":"make it blue"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a red mug, but make it blue", decodeBody(t, rec)["newPrompt"])

	rec = ts.do(t, http.MethodPost, "/edit", `{"description":null,"instruction":"make it blue"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "make it blue", decodeBody(t, rec)["newPrompt"])
}

func TestGenerateStatusRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/generate", `{"prompt":"a red mug"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	sub := decodeBody(t, rec)
	assert.Equal(t, "mock", sub["provider"])
	jobID, _ := sub["jobId"].(string)
	require.NotEmpty(t, jobID)

	rec = ts.do(t, http.MethodGet, "/status/"+jobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processing", decodeBody(t, rec)["status"])

	ts.now = ts.now.Add(5 * time.Second)
	rec = ts.do(t, http.MethodGet, "/status/"+jobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "complete", body["status"])
	result, _ := body["result"].(map[string]any)
	require.NotNil(t, result)
	assert.Equal(t, "obj", result["format"])
	assert.Equal(t, mesh.SampleMeshURL, result["meshFileUrl"])

	rec = ts.do(t, http.MethodGet, "/status/nope", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "failed", decodeBody(t, rec)["status"])
}

func TestImageGenerateAndExport(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodPost, "/image-generate", `{"prompt":"a red mug"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	dataURL, _ := decodeBody(t, rec)["imageDataUrl"].(string)
	assert.True(t, strings.HasPrefix(dataURL, "data:image/"), dataURL)

	rec = ts.do(t, http.MethodPost, "/export", `{"modelUrl":"/samples/cube.obj"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "/samples/cube.obj", body["downloadUrl"])
	assert.Equal(t, "glb", body["format"])
	assert.Equal(t, "2026-05-01T10:00:00Z", body["expiresAt"])
}

func TestSamplesAndAssets(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, mesh.SampleMeshURL, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "o Cube")

	_, err := ts.blobs.Write(context.Background(), "meshes/job-1/model.glb", []byte("glTF-binary"))
	require.NoError(t, err)
	rec = ts.do(t, http.MethodGet, "/assets/meshes/job-1/model.glb", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "model/gltf-binary", rec.Header().Get("Content-Type"))
	assert.Equal(t, "glTF-binary", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/assets/meshes/missing.obj", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/samples/none.obj", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/model.glb":
			w.Header().Set("Content-Type", "model/gltf-binary")
			_, _ = w.Write([]byte("mesh-bytes"))
		default:
			http.Error(w, "gone", http.StatusForbidden)
		}
	}))
	defer upstream.Close()

	ts := newTestServer(t, nil, allowPrivateProxy)

	rec := ts.do(t, http.MethodGet, "/proxy?url="+url.QueryEscape(upstream.URL+"/model.glb"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "model/gltf-binary", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "mesh-bytes", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/proxy?url="+url.QueryEscape(upstream.URL+"/expired.glb"), "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Upstream fetch failed: 403", decodeBody(t, rec)["error"])

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()
	rec = ts.do(t, http.MethodGet, "/proxy?url="+url.QueryEscape(closedURL+"/m.glb"), "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func allowPrivateProxy(opts *handlers.Options) { opts.ProxyAllowPrivate = true }

func TestProxyRejectsPrivateTargets(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("internal-secret"))
	}))
	defer upstream.Close()
	port := upstream.URL[strings.LastIndex(upstream.URL, ":")+1:]

	ts := newTestServer(t, nil)
	targets := []string{
		upstream.URL + "/admin",
		"http://localhost:" + port + "/admin",
		"http://169.254.169.254/latest/meta-data/",
		"http://10.0.0.8/m.glb",
		"http://[::1]:" + port + "/admin",
	}
	for _, target := range targets {
		t.Run(target, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/proxy?url="+url.QueryEscape(target), "")
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.NotContains(t, rec.Body.String(), "internal-secret")
			assert.Equal(t, "forbidden", decodeBody(t, rec)["code"])
		})
	}
}

func TestProxyHostAllowList(t *testing.T) {
	ts := newTestServer(t, []string{"assets.meshy.ai"})
	rec := ts.do(t, http.MethodGet, "/proxy?url="+url.QueryEscape("https://evil.example/m.glb"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeBody(t, rec)["code"])
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)
	rec := ts.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	ts.do(t, http.MethodPost, "/generate", `{"prompt":"a mug"}`)
	rec = ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `itera_mesh_jobs_submitted_total{provider="mock"} 1`)
}
