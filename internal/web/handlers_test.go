// internal/web/handlers_test.go
//
// End-to-end HTTP tests over the full router with a file-backed registry.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/qrelay/internal/admin"
	"github.com/yanizio/qrelay/internal/registry"
	"github.com/yanizio/qrelay/internal/registry/filestore"
	"github.com/yanizio/qrelay/internal/resolve"
	"github.com/yanizio/qrelay/internal/scaninfo"
	"github.com/yanizio/qrelay/internal/telemetry"
)

func newServer(t *testing.T) (*httptest.Server, *telemetry.Recorder) {
	t.Helper()
	log := zap.NewNop().Sugar()
	store, err := filestore.Open(filepath.Join(t.TempDir(), "registry.json"), log)
	if err != nil {
		t.Fatal(err)
	}
	rec := telemetry.NewRecorder(store, time.Second, 10, log)
	h := New(
		admin.New(store, log),
		resolve.New(store, rec, 0),
		store,
		scaninfo.NewParser("", log),
		"file",
	)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv, rec
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type envelope struct {
	Status   string          `json:"status"`
	Error    string          `json:"error"`
	Count    int             `json:"count"`
	Affected int             `json:"affected"`
	Data     json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return env
}

// noRedirect returns a client that surfaces the 302 instead of following it.
func noRedirect() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestScanLifecycle(t *testing.T) {
	srv, _ := newServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/codes",
		`{"id":"contact-1","email":"a@b.com","subject":"Hi","body":"Hello"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	if env.Status != "success" {
		t.Fatalf("create envelope = %+v", env)
	}

	// An active code resolves to its mailto URI.
	resp, err := noRedirect().Get(srv.URL + "/code/contact-1")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("scan status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "mailto:a@b.com?subject=Hi&body=Hello" {
		t.Fatalf("Location = %q", loc)
	}

	// A stopped code shows the inactive page, not a 404.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/codes/contact-1/status", `{"status":"stopped"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	resp, err = noRedirect().Get(srv.URL + "/code/contact-1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stopped scan status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("stopped scan content type = %q", ct)
	}
}

func TestScanStoreUnavailableIs503(t *testing.T) {
	log := zap.NewNop().Sugar()
	store, err := filestore.Open(filepath.Join(t.TempDir(), "registry.json"), log)
	if err != nil {
		t.Fatal(err)
	}
	rec := telemetry.NewRecorder(store, time.Second, 10, log)
	h := New(
		admin.New(store, log),
		resolve.New(store, rec, 0),
		store,
		scaninfo.NewParser("", log),
		"file",
	)

	if _, err := admin.New(store, log).Create(context.Background(), "contact-1",
		registry.Target{Email: "a@b.com"}); err != nil {
		t.Fatal(err)
	}

	// A scan whose lookup cannot complete answers retryable, not a verdict.
	expired, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/code/contact-1", nil).WithContext(expired)
	rw := httptest.NewRecorder()
	h.Router().ServeHTTP(rw, req)

	if rw.Code != http.StatusServiceUnavailable {
		t.Fatalf("scan with dead context = %d, want 503", rw.Code)
	}
	if rw.Header().Get("Retry-After") == "" {
		t.Fatal("503 response missing Retry-After")
	}
}

func TestScanUnknownIs404(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := noRedirect().Get(srv.URL + "/code/ghost")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateErrors(t *testing.T) {
	srv, _ := newServer(t)

	if resp := doJSON(t, http.MethodPost, srv.URL+"/api/codes",
		`{"id":"dup","email":"a@b.com"}`); resp.StatusCode != http.StatusCreated {
		t.Fatalf("first create = %d", resp.StatusCode)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/codes", `{"id":"dup","email":"x@y.com"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate = %d, want 409", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/codes", `{"id":"bad","email":"not-an-email"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid email = %d, want 400", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/codes", `{"id":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", resp.StatusCode)
	}
}

func TestUpdateTargetTakesEffect(t *testing.T) {
	srv, _ := newServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/codes", `{"id":"m","email":"old@b.com"}`)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/codes/m/target",
		`{"email":"new@b.com","subject":"Moved"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retarget = %d", resp.StatusCode)
	}

	resp, err := noRedirect().Get(srv.URL + "/code/m")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if loc := resp.Header.Get("Location"); loc != "mailto:new@b.com?subject=Moved" {
		t.Fatalf("Location after retarget = %q", loc)
	}
}

func TestDeleteStopsResolving(t *testing.T) {
	srv, _ := newServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/codes", `{"id":"gone","email":"a@b.com"}`)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/codes/gone", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete = %d", resp.StatusCode)
	}

	scan, err := noRedirect().Get(srv.URL + "/code/gone")
	if err != nil {
		t.Fatal(err)
	}
	scan.Body.Close()
	if scan.StatusCode != http.StatusNotFound {
		t.Fatalf("scan after delete = %d, want 404", scan.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/codes/gone", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", resp.StatusCode)
	}
}

func TestBulkStatusAndList(t *testing.T) {
	srv, _ := newServer(t)

	for _, id := range []string{"a", "b", "c"} {
		doJSON(t, http.MethodPost, srv.URL+"/api/codes", `{"id":"`+id+`","email":"a@b.com"}`)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/codes/status", `{"status":"stopped"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bulk = %d", resp.StatusCode)
	}
	if env := decodeEnvelope(t, resp); env.Affected != 3 {
		t.Fatalf("affected = %d, want 3", env.Affected)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/codes", "")
	env := decodeEnvelope(t, resp)
	if env.Count != 3 {
		t.Fatalf("count = %d, want 3", env.Count)
	}
	var views []entryView
	if err := json.Unmarshal(env.Data, &views); err != nil {
		t.Fatal(err)
	}
	for _, v := range views {
		if v.Status != "stopped" {
			t.Fatalf("entry %s status = %q after bulk stop", v.ID, v.Status)
		}
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/codes/status", `{"status":"bogus"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus status = %d, want 400", resp.StatusCode)
	}
}

func TestCodeStats(t *testing.T) {
	srv, rec := newServer(t)

	doJSON(t, http.MethodPost, srv.URL+"/api/codes", `{"id":"s","email":"a@b.com"}`)
	for i := 0; i < 3; i++ {
		resp, err := noRedirect().Get(srv.URL + "/code/s")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}
	rec.Flush(context.Background())

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/codes/s/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats = %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp)
	var st struct {
		ID        string `json:"id"`
		ScanCount int64  `json:"scan_count"`
	}
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.ScanCount != 3 {
		t.Fatalf("scan_count = %d, want 3", st.ScanCount)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health = %d", resp.StatusCode)
	}
	var body struct {
		Status  string `json:"status"`
		Storage string `json:"storage"`
		Entries int64  `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "healthy" || body.Storage != "file" {
		t.Fatalf("health body = %+v", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/codes", nil)
	req.Header.Set("Origin", "http://example.test")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Allow-Origin = %q", got)
	}
}
