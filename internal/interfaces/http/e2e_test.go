package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	promclient "github.com/prometheus/client_golang/prometheus"

	"github.com/dreschagin/link-preview/internal/application/port"
	"github.com/dreschagin/link-preview/internal/application/usecase"
	"github.com/dreschagin/link-preview/internal/domain/entity"
	"github.com/dreschagin/link-preview/internal/domain/valueobject"
	wsInfra "github.com/dreschagin/link-preview/internal/infrastructure/notification/websocket"
	"github.com/dreschagin/link-preview/internal/infrastructure/observability/prometheus"
	"github.com/dreschagin/link-preview/internal/interfaces/http/handler"
	"github.com/dreschagin/link-preview/internal/interfaces/http/middleware"
	"github.com/dreschagin/link-preview/pkg/config"
	"github.com/dreschagin/link-preview/pkg/logger"
)

const (
	testToken  = "test-token"
	testOrigin = "http://localhost:8080"
)

var (
	pngStub          = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00}
	publicURLPattern = regexp.MustCompile(`^https://previews\.s3\.us-east-1\.amazonaws\.com/link-preview/screenshot-\d+\.png$`)
)

type fakeBrowserProvider struct {
	gotoErr    error
	gotoBlocks bool

	launches atomic.Int32
	closes   atomic.Int32
}

func (p *fakeBrowserProvider) Name() string { return "fake" }

func (p *fakeBrowserProvider) Launch(_ context.Context) (port.Browser, error) {
	p.launches.Add(1)
	return &fakeBrowser{provider: p}, nil
}

func (p *fakeBrowserProvider) Close() error { return nil }

type fakeBrowser struct {
	provider *fakeBrowserProvider
	once     sync.Once
}

func (b *fakeBrowser) NewPage(_ context.Context, _ valueobject.Viewport) (port.Page, error) {
	return &fakePage{provider: b.provider}, nil
}

func (b *fakeBrowser) Close() error {
	b.once.Do(func() { b.provider.closes.Add(1) })
	return nil
}

type fakePage struct {
	provider *fakeBrowserProvider
}

func (p *fakePage) Goto(ctx context.Context, _ string, _ valueobject.WaitUntil) error {
	if p.provider.gotoBlocks {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.provider.gotoErr
}

func (p *fakePage) Screenshot(_ context.Context, _ bool) ([]byte, error) {
	return pngStub, nil
}

type memoryObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	pingErr error
}

func newMemoryObjectStorage() *memoryObjectStorage {
	return &memoryObjectStorage{objects: make(map[string][]byte)}
}

func (s *memoryObjectStorage) PutObject(_ context.Context, key, _ string, body []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", s.putErr
	}
	s.objects[key] = append([]byte(nil), body...)
	return "https://previews.s3.us-east-1.amazonaws.com/" + key, nil
}

func (s *memoryObjectStorage) GetObjectURL(_ context.Context, key string) (string, error) {
	return "https://previews.s3.us-east-1.amazonaws.com/" + key, nil
}

func (s *memoryObjectStorage) ListObjects(_ context.Context, prefix string, limit int) ([]port.StoredObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]port.StoredObject, 0, len(s.objects))
	for key, body := range s.objects {
		if strings.HasPrefix(key, prefix) {
			items = append(items, port.StoredObject{Key: key, SizeBytes: int64(len(body))})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key > items[j].Key })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *memoryObjectStorage) Ping(_ context.Context) error { return s.pingErr }

func (s *memoryObjectStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type memoryCaptureIndex struct {
	mu       sync.Mutex
	captures []*entity.Capture
}

func (i *memoryCaptureIndex) Save(_ context.Context, capture *entity.Capture) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.captures = append([]*entity.Capture{capture}, i.captures...)
	return nil
}

func (i *memoryCaptureIndex) ListRecent(_ context.Context, query port.CaptureListQuery) (port.CaptureListPage, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if query.Cursor != "" {
		return port.CaptureListPage{}, port.ErrInvalidCursor
	}
	items := i.captures
	if len(items) > query.Limit {
		items = items[:query.Limit]
	}
	return port.CaptureListPage{Items: items}, nil
}

func (i *memoryCaptureIndex) Ping(_ context.Context) error { return nil }

type denyAllGuard struct{}

func (denyAllGuard) Check(_ context.Context) error {
	return fmt.Errorf("%w: 4 browser processes running (limit 4)", port.ErrCapacityExhausted)
}

type serverOptions struct {
	provider    *fakeBrowserProvider
	storage     *memoryObjectStorage
	index       port.CaptureIndex
	guard       port.CapacityGuard
	authEnabled bool
	rateLimit   int

	storageFallback bool
	feedMaxClients  int
	trustedProxies  []string
}

type testServer struct {
	*httptest.Server
	provider *fakeBrowserProvider
	storage  *memoryObjectStorage
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	if opts.provider == nil {
		opts.provider = &fakeBrowserProvider{}
	}
	if opts.storage == nil {
		opts.storage = newMemoryObjectStorage()
	}
	if opts.rateLimit == 0 {
		opts.rateLimit = 1000
	}

	log := logger.New("error")
	authConfig := middleware.AuthConfig{Enabled: opts.authEnabled, BearerToken: testToken}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := wsInfra.NewHub(log)
	go hub.Run(ctx)

	metrics := prometheus.New(promclient.NewRegistry())

	captureUC := usecase.NewCaptureScreenshotUseCase(
		opts.provider,
		opts.storage,
		valueobject.NewKeyGenerator(valueobject.DefaultKeyFolder),
		usecase.CaptureScreenshotConfig{NavigationTimeout: 100 * time.Millisecond},
		log,
	)
	captureUC.SetNotificationService(hub)
	captureUC.AddObserver(metrics)
	if opts.guard != nil {
		captureUC.SetCapacityGuard(opts.guard)
	}

	if opts.index != nil {
		captureUC.SetIndex(opts.index)
	}
	listUC := usecase.NewListCapturesUseCase(opts.index, nil, usecase.ListCapturesConfig{}, log)
	if opts.storageFallback {
		listUC.SetStorageFallback(opts.storage)
	}

	checks := []handler.DependencyCheck{{Name: "storage", Pinger: opts.storage}}
	if opts.index != nil {
		checks = append(checks, handler.DependencyCheck{Name: "index", Pinger: opts.index, Optional: true})
	}

	router := NewRouter(
		handler.NewPageHandler(listUC, authConfig, log),
		handler.NewWebSocketHandler(hub, handler.FeedConfig{AllowedOrigins: []string{testOrigin}, MaxClients: opts.feedMaxClients}, authConfig, log),
		handler.NewScreenshotAPIHandler(captureUC, listUC, 5*time.Second, 1024, log),
		handler.NewAuthAPIHandler(authConfig, log),
		handler.NewHealthHandler(checks, nil, log),
		metrics,
		config.SecurityConfig{
			AllowedOrigins:     []string{testOrigin},
			AuthEnabled:        opts.authEnabled,
			AuthToken:          testToken,
			RateLimitPerMinute: opts.rateLimit,
			TrustedProxies:     opts.trustedProxies,
		},
		log,
	)

	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)

	return &testServer{Server: server, provider: opts.provider, storage: opts.storage}
}

func postScreenshot(t *testing.T, server *testServer, body string, headers map[string]string) (int, map[string]string) {
	t.Helper()

	resp := doRequest(t, server.Client(), http.MethodPost, server.URL+"/api/screenshot", bytes.NewBufferString(body), headers)
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected JSON response, got %q", ct)
	}

	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, payload
}

func TestE2EHealthEndpoints(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	for _, path := range []string{"/healthz", "/readyz"} {
		resp := doRequest(t, server.Client(), http.MethodGet, server.URL+path, nil, nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, resp.StatusCode)
		}
	}
}

func TestE2EReadinessFailsWhenStorageDown(t *testing.T) {
	storage := newMemoryObjectStorage()
	storage.pingErr = errors.New("NoSuchBucket")
	server := newTestServer(t, serverOptions{storage: storage, index: &memoryCaptureIndex{}})

	resp := doRequest(t, server.Client(), http.MethodGet, server.URL+"/readyz", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}

	var payload struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode readiness: %v", err)
	}
	if payload.Status != "not_ready" || payload.Checks["storage"].Status != "error" || payload.Checks["index"].Status != "ok" {
		t.Fatalf("unexpected readiness payload: %+v", payload)
	}
}

func TestE2ECaptureSuccess(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	status, payload := postScreenshot(t, server, `{"url":"https://example.com"}`, nil)
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", status, payload)
	}
	if payload["message"] != "Screenshot captured successfully" {
		t.Fatalf("unexpected message: %q", payload["message"])
	}
	if !publicURLPattern.MatchString(payload["url"]) {
		t.Fatalf("unexpected url: %q", payload["url"])
	}
	if server.storage.count() != 1 {
		t.Fatalf("expected one stored object, got %d", server.storage.count())
	}
	if server.provider.closes.Load() != 1 {
		t.Fatalf("expected browser closed once, got %d", server.provider.closes.Load())
	}
}

func TestE2ECaptureValidation(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"missing url", `{}`, "URL is required"},
		{"empty url", `{"url":""}`, "URL is required"},
		{"malformed json", `{"url":`, "URL is required"},
		{"empty body", ``, "URL is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := postScreenshot(t, server, tt.body, nil)
			if status != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", status)
			}
			if payload["message"] != tt.message {
				t.Fatalf("expected %q, got %q", tt.message, payload["message"])
			}
		})
	}

	status, payload := postScreenshot(t, server, `{"url":"not a url"}`, nil)
	if status != http.StatusBadRequest || !strings.HasPrefix(payload["message"], "Invalid URL: ") {
		t.Fatalf("expected invalid URL response, got %d %q", status, payload["message"])
	}

	if server.provider.launches.Load() != 0 {
		t.Fatalf("browser must not launch for invalid requests")
	}
}

func TestE2ECaptureMethodAndBodyLimits(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	resp := doRequest(t, server.Client(), http.MethodGet, server.URL+"/api/screenshot", nil, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow: POST, got %q", resp.Header.Get("Allow"))
	}

	large := `{"url":"https://example.com/` + strings.Repeat("a", 2048) + `"}`
	status, payload := postScreenshot(t, server, large, nil)
	if status != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d (%v)", status, payload)
	}
}

func TestE2ECaptureFailures(t *testing.T) {
	t.Run("navigation error", func(t *testing.T) {
		server := newTestServer(t, serverOptions{provider: &fakeBrowserProvider{gotoErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}})

		status, payload := postScreenshot(t, server, `{"url":"https://nonexistent.invalid"}`, nil)
		if status != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", status)
		}
		if !strings.HasPrefix(payload["message"], "Failed to capture screenshot: ") ||
			!strings.Contains(payload["message"], "ERR_NAME_NOT_RESOLVED") {
			t.Fatalf("unexpected message: %q", payload["message"])
		}
		if server.provider.closes.Load() != 1 {
			t.Fatalf("expected browser closed on failure")
		}
		if server.storage.count() != 0 {
			t.Fatalf("nothing must be uploaded")
		}
	})

	t.Run("navigation timeout", func(t *testing.T) {
		server := newTestServer(t, serverOptions{provider: &fakeBrowserProvider{gotoBlocks: true}})

		status, payload := postScreenshot(t, server, `{"url":"https://slow.example.com"}`, nil)
		if status != http.StatusInternalServerError || !strings.Contains(payload["message"], "timed out") {
			t.Fatalf("expected timeout failure, got %d %q", status, payload["message"])
		}
		if server.provider.closes.Load() != 1 {
			t.Fatalf("expected browser closed after timeout")
		}
	})

	t.Run("upload error", func(t *testing.T) {
		storage := newMemoryObjectStorage()
		storage.putErr = errors.New("AccessDenied")
		server := newTestServer(t, serverOptions{storage: storage})

		status, payload := postScreenshot(t, server, `{"url":"https://example.com"}`, nil)
		if status != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d", status)
		}
		if payload["message"] != "Failed to capture screenshot: upload failed: AccessDenied" {
			t.Fatalf("unexpected message: %q", payload["message"])
		}
		if server.provider.closes.Load() != 1 {
			t.Fatalf("expected browser closed before upload failure response")
		}
	})

	t.Run("capacity exhausted", func(t *testing.T) {
		server := newTestServer(t, serverOptions{guard: denyAllGuard{}})

		status, payload := postScreenshot(t, server, `{"url":"https://example.com"}`, nil)
		if status != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", status)
		}
		if payload["message"] != "Capture capacity exhausted: 4 browser processes running (limit 4)" {
			t.Fatalf("unexpected message: %q", payload["message"])
		}
		if server.provider.launches.Load() != 0 {
			t.Fatalf("browser must not launch")
		}
	})
}

func TestE2EAuthAndRateLimit(t *testing.T) {
	server := newTestServer(t, serverOptions{authEnabled: true, rateLimit: 1})

	status, payload := postScreenshot(t, server, `{"url":"https://example.com"}`, nil)
	if status != http.StatusUnauthorized || payload["message"] != "Unauthorized" {
		t.Fatalf("expected 401, got %d %q", status, payload["message"])
	}

	auth := map[string]string{"Authorization": "Bearer " + testToken}
	status, _ = postScreenshot(t, server, `{"url":"https://example.com"}`, auth)
	if status != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", status)
	}

	status, _ = postScreenshot(t, server, `{"url":"https://example.com"}`, auth)
	if status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", status)
	}

	login := doRequest(t, server.Client(), http.MethodPost, server.URL+"/api/auth/login",
		bytes.NewBufferString(`{"token":"`+testToken+`"}`), map[string]string{"Content-Type": "application/json"})
	login.Body.Close()
	if login.StatusCode != http.StatusOK || len(login.Cookies()) == 0 {
		t.Fatalf("expected login cookie, got %d", login.StatusCode)
	}
}

func TestE2EListScreenshots(t *testing.T) {
	server := newTestServer(t, serverOptions{index: &memoryCaptureIndex{}})

	for _, target := range []string{"https://example.com/a", "https://example.com/b"} {
		if status, payload := postScreenshot(t, server, `{"url":"`+target+`"}`, nil); status != http.StatusOK {
			t.Fatalf("capture failed: %d %v", status, payload)
		}
	}

	resp := doRequest(t, server.Client(), http.MethodGet, server.URL+"/api/screenshots?limit=1", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var page struct {
		Items []struct {
			SourceURL string `json:"source_url"`
			URL       string `json:"url"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].SourceURL != "https://example.com/b" {
		t.Fatalf("unexpected page: %+v", page.Items)
	}
	if !publicURLPattern.MatchString(page.Items[0].URL) {
		t.Fatalf("unexpected url in list: %q", page.Items[0].URL)
	}

	for query, want := range map[string]int{
		"?limit=abc":    http.StatusBadRequest,
		"?cursor=bogus": http.StatusBadRequest,
	} {
		bad := doRequest(t, server.Client(), http.MethodGet, server.URL+"/api/screenshots"+query, nil, nil)
		bad.Body.Close()
		if bad.StatusCode != want {
			t.Fatalf("%s: expected %d, got %d", query, want, bad.StatusCode)
		}
	}
}

func TestE2EListScreenshotsFromStorage(t *testing.T) {
	server := newTestServer(t, serverOptions{storageFallback: true})

	for _, target := range []string{"https://example.com/a", "https://example.com/b"} {
		if status, payload := postScreenshot(t, server, `{"url":"`+target+`"}`, nil); status != http.StatusOK {
			t.Fatalf("capture failed: %d %v", status, payload)
		}
		// ключи различаются по миллисекундам
		time.Sleep(2 * time.Millisecond)
	}

	resp := doRequest(t, server.Client(), http.MethodGet, server.URL+"/api/screenshots?limit=5", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var page struct {
		Items []struct {
			ObjectKey string `json:"object_key"`
		} `json:"items"`
		NextCursor string `json:"next_cursor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor != "" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.Items[0].ObjectKey <= page.Items[1].ObjectKey {
		t.Fatalf("expected newest first: %+v", page.Items)
	}

	bad := doRequest(t, server.Client(), http.MethodGet, server.URL+"/api/screenshots?cursor=abc", nil, nil)
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("cursor without index: expected 400, got %d", bad.StatusCode)
	}
}

func TestE2EListScreenshotsWithoutIndex(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	resp := doRequest(t, server.Client(), http.MethodGet, server.URL+"/api/screenshots", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestE2EWebSocketReceivesCapture(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	rejected, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{"http://evil.example"}})
	if err == nil {
		rejected.Close()
		t.Fatal("expected origin check to reject connection")
	}
	if resp != nil {
		resp.Body.Close()
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": []string{testOrigin}})
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	if resp != nil {
		resp.Body.Close()
	}

	// регистрация клиента в hub асинхронная
	time.Sleep(50 * time.Millisecond)

	if status, payload := postScreenshot(t, server, `{"url":"https://example.com"}`, nil); status != http.StatusOK {
		t.Fatalf("capture failed: %d %v", status, payload)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var message struct {
		Type string `json:"type"`
		Data struct {
			SourceURL string `json:"source_url"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&message); err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	if message.Type != "capture" || message.Data.SourceURL != "https://example.com" {
		t.Fatalf("unexpected message: %+v", message)
	}
}

func TestE2EPageStaticAndMetrics(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	page := doRequest(t, server.Client(), http.MethodGet, server.URL+"/", nil, nil)
	body, _ := io.ReadAll(page.Body)
	page.Body.Close()
	if page.StatusCode != http.StatusOK || !strings.Contains(string(body), `id="capture-form"`) {
		t.Fatalf("unexpected page response: %d", page.StatusCode)
	}

	css := doRequest(t, server.Client(), http.MethodGet, server.URL+"/static/css/style.css", nil, nil)
	css.Body.Close()
	if css.StatusCode != http.StatusOK {
		t.Fatalf("expected static asset, got %d", css.StatusCode)
	}

	missing := doRequest(t, server.Client(), http.MethodGet, server.URL+"/nope", nil, nil)
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}

	if status, _ := postScreenshot(t, server, `{}`, nil); status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", status)
	}

	metrics := doRequest(t, server.Client(), http.MethodGet, server.URL+"/metrics", nil, nil)
	metricsBody, _ := io.ReadAll(metrics.Body)
	metrics.Body.Close()
	if !strings.Contains(string(metricsBody), `screenshot_captures_total{outcome="validation_error",provider="fake"} 1`) {
		t.Fatalf("expected validation outcome in metrics:\n%s", metricsBody)
	}
	if !strings.Contains(string(metricsBody), `http_requests_total{method="POST",route="/api/screenshot",status="400"} 1`) {
		t.Fatalf("expected request counter in metrics")
	}
}

func doRequest(t *testing.T, client *http.Client, method, url string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestE2EWebSocketFeedLimit(t *testing.T) {
	server := newTestServer(t, serverOptions{feedMaxClients: 1})
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	origin := http.Header{"Origin": []string{testOrigin}}

	first, resp, err := websocket.DefaultDialer.Dial(wsURL, origin)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer first.Close()
	if resp != nil {
		resp.Body.Close()
	}

	// регистрация клиента в hub асинхронная
	time.Sleep(50 * time.Millisecond)

	second, resp, err := websocket.DefaultDialer.Dial(wsURL, origin)
	if err == nil {
		second.Close()
		t.Fatal("expected second connection to be rejected")
	}
	if resp == nil {
		t.Fatalf("expected HTTP response, got %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable || resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected 503 with Retry-After, got %d", resp.StatusCode)
	}
}

func TestE2ERateLimitForwardedFor(t *testing.T) {
	capture := func(server *testServer, forwardedFor string) int {
		status, _ := postScreenshot(t, server, `{"url":"https://example.com"}`, map[string]string{
			"X-Forwarded-For": forwardedFor,
		})
		return status
	}

	t.Run("untrusted peer cannot rotate addresses", func(t *testing.T) {
		server := newTestServer(t, serverOptions{rateLimit: 1})

		if status := capture(server, "203.0.113.1"); status != http.StatusOK {
			t.Fatalf("expected first capture to pass, got %d", status)
		}
		if status := capture(server, "203.0.113.2"); status != http.StatusTooManyRequests {
			t.Fatalf("expected spoofed X-Forwarded-For to hit the limit, got %d", status)
		}
	})

	t.Run("trusted proxy forwards client addresses", func(t *testing.T) {
		server := newTestServer(t, serverOptions{rateLimit: 1, trustedProxies: []string{"127.0.0.0/8", "::1"}})

		if status := capture(server, "203.0.113.1"); status != http.StatusOK {
			t.Fatalf("expected first client to pass, got %d", status)
		}
		if status := capture(server, "203.0.113.2"); status != http.StatusOK {
			t.Fatalf("expected second client to get its own bucket, got %d", status)
		}
		if status := capture(server, "203.0.113.1"); status != http.StatusTooManyRequests {
			t.Fatalf("expected repeated client to be limited, got %d", status)
		}
	})
}
