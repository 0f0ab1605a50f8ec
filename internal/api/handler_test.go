package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
	"github.com/nidhogg/mnemo/internal/recall"
)

// stubEngine answers from fixed data so handler tests need no databases.
type stubEngine struct {
	stored      []memory.Turn
	storeErr    error
	events      map[string]*memory.Event
	results     []recall.ScoredMemory
	reflections map[string]*memory.Reflection
	cleaned     int
	rebuilt     int
}

func newStubEngine() *stubEngine {
	return &stubEngine{
		events:      make(map[string]*memory.Event),
		reflections: make(map[string]*memory.Reflection),
	}
}

func (s *stubEngine) StoreMemory(_ context.Context, turn memory.Turn) (*memory.Event, error) {
	if s.storeErr != nil {
		return nil, s.storeErr
	}
	s.stored = append(s.stored, turn)
	return &memory.Event{
		ID: "ev-1", Seq: 1, Namespace: turn.Namespace,
		Content: turn.Text, Actor: turn.Actor, Salience: 0.7,
	}, nil
}

func (s *stubEngine) RecallMemories(_ context.Context, q recall.Query) ([]recall.ScoredMemory, error) {
	return s.results, nil
}

func (s *stubEngine) GetMemory(_ context.Context, _, id string) (*memory.Event, error) {
	if ev, ok := s.events[id]; ok {
		return ev, nil
	}
	return nil, memory.ErrNotFound
}

func (s *stubEngine) DailyReflection(_ context.Context, ns string, date time.Time) (*memory.Reflection, error) {
	if r, ok := s.reflections[ns+"/daily/"+date.Format("2006-01-02")]; ok {
		return r, nil
	}
	return nil, memory.ErrNotFound
}

func (s *stubEngine) WeeklyReflection(_ context.Context, ns string, date time.Time) (*memory.Reflection, error) {
	return nil, memory.ErrNotFound
}

func (s *stubEngine) ListReflections(_ context.Context, ns string, kind memory.ReflectionKind, _ int) ([]*memory.Reflection, error) {
	var out []*memory.Reflection
	for _, r := range s.reflections {
		if r.Namespace == ns && r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubEngine) AnalyzePatterns(_ context.Context, ns string, days int) (*recall.Patterns, error) {
	return &recall.Patterns{Namespace: ns, WindowDays: days}, nil
}

func (s *stubEngine) Statistics(_ context.Context, ns string) (*recall.Statistics, error) {
	return &recall.Statistics{Store: &memory.StoreStats{Namespace: ns, EventCount: 3}}, nil
}

func (s *stubEngine) Namespaces(_ context.Context) ([]string, error) {
	return []string{"u1"}, nil
}

func (s *stubEngine) Cleanup(_ context.Context, _ string) (int, error) {
	s.cleaned++
	return 2, nil
}

func (s *stubEngine) RebuildIndex(_ context.Context, _ string) (int, error) {
	s.rebuilt++
	return 5, nil
}

func newTestServer(t *testing.T, eng Engine) *httptest.Server {
	t.Helper()
	h := NewHandler(eng, nil, zap.NewNop())
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	ts := newTestServer(t, newStubEngine())

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStoreMemory(t *testing.T) {
	eng := newStubEngine()
	ts := newTestServer(t, eng)

	resp := postJSON(t, ts, "/api/memories", map[string]interface{}{
		"namespace": "u1",
		"text":      "I am so excited about the trip!",
		"actor":     "user",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var ev memory.Event
	decodeJSON(t, resp, &ev)
	if ev.ID == "" || ev.Namespace != "u1" {
		t.Errorf("unexpected event %+v", ev)
	}
	if len(eng.stored) != 1 {
		t.Errorf("engine received %d turns, want 1", len(eng.stored))
	}
}

func TestStoreMemoryValidation(t *testing.T) {
	ts := newTestServer(t, newStubEngine())

	resp := postJSON(t, ts, "/api/memories", map[string]interface{}{"text": "hi"})
	if resp.StatusCode != 400 {
		t.Errorf("missing namespace: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRecallMemories(t *testing.T) {
	eng := newStubEngine()
	eng.results = []recall.ScoredMemory{
		{Event: &memory.Event{ID: "a", Namespace: "u1"}, Salience: 0.9},
	}
	ts := newTestServer(t, eng)

	resp := getJSON(t, ts, "/api/memories/recall?namespace=u1&q=trip&limit=5")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Count    int                   `json:"count"`
		Memories []recall.ScoredMemory `json:"memories"`
	}
	decodeJSON(t, resp, &body)
	if body.Count != 1 || body.Memories[0].Event.ID != "a" {
		t.Errorf("unexpected recall body %+v", body)
	}
}

func TestRecallValidation(t *testing.T) {
	ts := newTestServer(t, newStubEngine())

	resp := getJSON(t, ts, "/api/memories/recall?q=trip")
	if resp.StatusCode != 400 {
		t.Errorf("missing namespace: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = getJSON(t, ts, "/api/memories/recall?namespace=u1&min_salience=1.5")
	if resp.StatusCode != 400 {
		t.Errorf("out-of-range min_salience: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGetMemory(t *testing.T) {
	eng := newStubEngine()
	eng.events["ev-1"] = &memory.Event{ID: "ev-1", Namespace: "u1", Content: "hello"}
	ts := newTestServer(t, eng)

	resp := getJSON(t, ts, "/api/memories/ev-1?namespace=u1")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var ev memory.Event
	decodeJSON(t, resp, &ev)
	if ev.Content != "hello" {
		t.Errorf("unexpected event %+v", ev)
	}

	resp = getJSON(t, ts, "/api/memories/missing?namespace=u1")
	if resp.StatusCode != 404 {
		t.Errorf("missing id: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDailyReflection(t *testing.T) {
	eng := newStubEngine()
	eng.reflections["u1/daily/2026-08-20"] = &memory.Reflection{
		ID: "r1", Namespace: "u1", Kind: memory.ReflectionDaily,
	}
	ts := newTestServer(t, eng)

	resp := getJSON(t, ts, "/api/reflections/daily/2026-08-20?namespace=u1")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var ref memory.Reflection
	decodeJSON(t, resp, &ref)
	if ref.ID != "r1" {
		t.Errorf("unexpected reflection %+v", ref)
	}

	resp = getJSON(t, ts, "/api/reflections/daily/not-a-date?namespace=u1")
	if resp.StatusCode != 400 {
		t.Errorf("bad date: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListReflectionsRejectsUnknownKind(t *testing.T) {
	ts := newTestServer(t, newStubEngine())

	resp := getJSON(t, ts, "/api/reflections?namespace=u1&kind=hourly")
	if resp.StatusCode != 400 {
		t.Errorf("unknown kind: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestPatternsAndStats(t *testing.T) {
	ts := newTestServer(t, newStubEngine())

	resp := getJSON(t, ts, "/api/patterns?namespace=u1&days=7")
	if resp.StatusCode != 200 {
		t.Fatalf("patterns: expected 200, got %d", resp.StatusCode)
	}
	var p recall.Patterns
	decodeJSON(t, resp, &p)
	if p.WindowDays != 7 {
		t.Errorf("days not passed through, got %d", p.WindowDays)
	}

	resp = getJSON(t, ts, "/api/stats?namespace=u1")
	if resp.StatusCode != 200 {
		t.Fatalf("stats: expected 200, got %d", resp.StatusCode)
	}
	var st recall.Statistics
	decodeJSON(t, resp, &st)
	if st.Store == nil || st.Store.EventCount != 3 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestAdminCleanupInline(t *testing.T) {
	eng := newStubEngine()
	ts := newTestServer(t, eng)

	resp := postJSON(t, ts, "/api/admin/cleanup", map[string]string{"namespace": "u1"})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	decodeJSON(t, resp, &body)
	if body["status"] != "done" {
		t.Errorf("unexpected body %v", body)
	}
	if eng.cleaned != 1 {
		t.Errorf("cleanup calls = %d, want 1", eng.cleaned)
	}

	resp = postJSON(t, ts, "/api/admin/cleanup", map[string]string{})
	if resp.StatusCode != 400 {
		t.Errorf("missing namespace: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminRebuildInline(t *testing.T) {
	eng := newStubEngine()
	ts := newTestServer(t, eng)

	resp := postJSON(t, ts, "/api/admin/rebuild", map[string]string{"namespace": "u1"})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	if eng.rebuilt != 1 {
		t.Errorf("rebuild calls = %d, want 1", eng.rebuilt)
	}
}
