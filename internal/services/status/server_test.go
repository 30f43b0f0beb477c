package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"printguard/internal/services/history"
	"printguard/internal/services/watch/domain"
)

type fakeStatus struct {
	ready bool
	snaps []domain.SourceSnapshot
}

func (f *fakeStatus) Ready() bool                        { return f.ready }
func (f *fakeStatus) Snapshots() []domain.SourceSnapshot { return f.snaps }

type fakePrinter struct {
	lastAction string
	statusErr  error
}

func (f *fakePrinter) Pause(context.Context) error  { f.lastAction = "pause"; return nil }
func (f *fakePrinter) Resume(context.Context) error { f.lastAction = "resume"; return nil }
func (f *fakePrinter) Cancel(context.Context) error { f.lastAction = "cancel"; return nil }
func (f *fakePrinter) Status(context.Context) (json.RawMessage, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return json.RawMessage(`{"result":{}}`), nil
}

func newTestServer(t *testing.T, st domain.StatusPort, store *history.Store, p PrinterControl, hub *Hub) *httptest.Server {
	t.Helper()
	mux := chi.NewRouter()
	NewServer(st, store, p, hub).Mount(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestReadyzGating(t *testing.T) {
	st := &fakeStatus{}
	srv := newTestServer(t, st, nil, nil, nil)

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 before first tick", resp.StatusCode)
	}

	st.ready = true
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 once ready", resp.StatusCode)
	}
}

func TestSourcesSnapshot(t *testing.T) {
	st := &fakeStatus{
		ready: true,
		snaps: []domain.SourceSnapshot{
			{Index: 0, URL: "http://cam0", State: "idle"},
			{Index: 1, URL: "http://cam1", State: "confirmed", FailureActive: true},
		},
	}
	srv := newTestServer(t, st, nil, nil, nil)

	resp, err := http.Get(srv.URL + "/api/sources")
	if err != nil {
		t.Fatalf("GET /api/sources: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env struct {
		Data []domain.SourceSnapshot `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 2 {
		t.Fatalf("sources = %d, want 2", len(env.Data))
	}
	if env.Data[1].State != "confirmed" || !env.Data[1].FailureActive {
		t.Errorf("snapshot[1] = %+v", env.Data[1])
	}
}

func TestEpisodesRoute(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	ev := domain.FailureEvent{ID: "ep-1", Label: "spaghetti", At: time.Now().UTC()}
	if err := store.RecordRaise(context.Background(), ev); err != nil {
		t.Fatalf("RecordRaise: %v", err)
	}

	srv := newTestServer(t, &fakeStatus{ready: true}, store, nil, nil)

	resp, err := http.Get(srv.URL + "/api/episodes?limit=10")
	if err != nil {
		t.Fatalf("GET /api/episodes: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var env struct {
		Data []history.Episode `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data) != 1 || env.Data[0].ID != "ep-1" {
		t.Fatalf("episodes = %+v", env.Data)
	}

	resp, err = http.Get(srv.URL + "/api/episodes?limit=zero")
	if err != nil {
		t.Fatalf("GET bad limit: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("bad limit status = %d, want 422", resp.StatusCode)
	}
}

func TestEpisodesWithoutStore(t *testing.T) {
	srv := newTestServer(t, &fakeStatus{}, nil, nil, nil)
	resp, err := http.Get(srv.URL + "/api/episodes")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 when history disabled", resp.StatusCode)
	}
}

func TestPrinterAction(t *testing.T) {
	p := &fakePrinter{}
	srv := newTestServer(t, &fakeStatus{ready: true}, nil, p, nil)

	resp, err := http.Post(srv.URL+"/api/printer/action", "application/json",
		strings.NewReader(`{"action":"resume"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if p.lastAction != "resume" {
		t.Errorf("action = %q, want resume", p.lastAction)
	}

	resp, err = http.Post(srv.URL+"/api/printer/action", "application/json",
		strings.NewReader(`{"action":"explode"}`))
	if err != nil {
		t.Fatalf("POST bad action: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad action status = %d, want 400", resp.StatusCode)
	}
}

func TestWebsocketReceivesRaise(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := newTestServer(t, &fakeStatus{}, nil, nil, hub)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	// let the hub pick up the registration before broadcasting
	time.Sleep(50 * time.Millisecond)

	hub.PublishRaise(domain.FailureEvent{
		ID:          "ep-1",
		SourceIndex: 2,
		Label:       "spaghetti",
		ClassProb:   0.91,
		At:          time.Now().UTC(),
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != "failure_raised" || got.EpisodeID != "ep-1" || got.SourceIndex != 2 {
		t.Errorf("event = %+v", got)
	}
}
