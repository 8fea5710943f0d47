package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/drcokefloat/scanx-brief/internal/analyzer"
	"github.com/drcokefloat/scanx-brief/internal/brief"
	"github.com/drcokefloat/scanx-brief/internal/jobs"
	"github.com/drcokefloat/scanx-brief/internal/logger"
	"github.com/drcokefloat/scanx-brief/internal/registry"
)

type fakeSearcher struct {
	mu      sync.Mutex
	studies []json.RawMessage
	err     error
	queries []string
}

func (f *fakeSearcher) SearchWithReport(ctx context.Context, query string, sampleSize int) ([]json.RawMessage, registry.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, registry.Report{}, f.err
	}
	return f.studies, registry.BuildReport(query, f.studies, sampleSize), nil
}

// inlineScheduler runs jobs on the calling goroutine, or only records them when held.
type inlineScheduler struct {
	mu     sync.Mutex
	names  []string
	held   []jobs.Job
	hold   bool
	closed bool
}

func (s *inlineScheduler) Submit(name string, job jobs.Job) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return jobs.ErrClosed
	}
	s.names = append(s.names, name)
	if s.hold {
		s.held = append(s.held, job)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	_ = job(context.Background())
	return nil
}

type fakePDF struct {
	docs []string
	err  error
}

func (f *fakePDF) Render(_ context.Context, htmlDoc string) ([]byte, error) {
	f.docs = append(f.docs, htmlDoc)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("%PDF-1.7 fake"), nil
}

type testEnv struct {
	handler  http.Handler
	searcher *fakeSearcher
	jobs     *inlineScheduler
	pdf      *fakePDF
	service  *brief.Service
}

func study(nctID, title string) json.RawMessage {
	return json.RawMessage(`{"protocolSection":{"identificationModule":{"nctId":"` + nctID + `","briefTitle":"` + title + `"},` +
		`"statusModule":{"overallStatus":"RECRUITING","startDateStruct":{"date":"2024-02"}},` +
		`"sponsorCollaboratorsModule":{"leadSponsor":{"name":"Acme Bio"}},` +
		`"designModule":{"phases":["PHASE3"]}}}`)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := brief.NewSQLiteStore(filepath.Join(t.TempDir(), "briefs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	searcher := &fakeSearcher{studies: []json.RawMessage{
		study("NCT00000001", "Donepezil trial"),
		study("NCT00000002", "Lecanemab trial"),
	}}
	now := func() time.Time { return time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC) }
	svc, err := brief.NewService(store, searcher, analyzer.NewDemoAnalyzer(now), brief.ServiceConfig{Now: now}, logger.Nop())
	if err != nil {
		t.Fatal(err)
	}
	sched := &inlineScheduler{}
	pdf := &fakePDF{}
	return &testEnv{
		handler:  NewServer(svc, sched, pdf, logger.Nop()),
		searcher: searcher,
		jobs:     sched,
		pdf:      pdf,
		service:  svc,
	}
}

func do(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(OwnerHeader, userID)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type briefEnvelope struct {
	OK    bool        `json:"ok"`
	Brief brief.Brief `json:"brief"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return out
}

func mustCreate(t *testing.T, env *testEnv, userID string, body any) brief.Brief {
	t.Helper()
	rr := do(t, env.handler, http.MethodPost, "/v1/briefs", userID, body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	return decode[briefEnvelope](t, rr).Brief
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rr := do(t, env.handler, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestCreateSchedulesGeneration(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreate(t, env, "u1", map[string]any{"topic": "Alzheimer's Disease"})
	if created.Status != brief.StatusGenerating {
		t.Fatalf("expected generating in 202 body, got %s", created.Status)
	}
	if len(env.jobs.names) != 1 || env.jobs.names[0] != "generate "+created.ID {
		t.Fatalf("unexpected jobs: %v", env.jobs.names)
	}

	rr := do(t, env.handler, http.MethodGet, "/v1/briefs/"+created.ID+"/status", "u1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status code=%d body=%s", rr.Code, rr.Body.String())
	}
	st := decode[brief.StatusReport](t, rr)
	if st.Status != brief.StatusCompleted || st.TrialCount != 2 || !st.HasSummary {
		t.Fatalf("unexpected status report: %+v", st)
	}
}

func TestCreateSync(t *testing.T) {
	env := newTestEnv(t)
	rr := do(t, env.handler, http.MethodPost, "/v1/briefs?sync=true", "u1", map[string]any{"topic": "asthma"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	got := decode[briefEnvelope](t, rr)
	if !got.OK || got.Brief.Status != brief.StatusCompleted {
		t.Fatalf("unexpected sync result: %+v", got)
	}
	if len(env.jobs.names) != 0 {
		t.Fatalf("expected no background jobs for sync create, got %v", env.jobs.names)
	}
}

func TestCreateSyncFailureReportsFailedBrief(t *testing.T) {
	env := newTestEnv(t)
	env.searcher.err = &registry.Error{Op: "search", Err: errors.New("registry down")}
	rr := do(t, env.handler, http.MethodPost, "/v1/briefs?sync=1", "u1", map[string]any{"topic": "asthma"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with failed brief, got %d", rr.Code)
	}
	got := decode[briefEnvelope](t, rr)
	if got.OK || got.Brief.Status != brief.StatusFailed {
		t.Fatalf("expected failed brief, got %+v", got)
	}
	if !strings.HasPrefix(got.Brief.Summary, "Brief generation failed:") {
		t.Fatalf("unexpected failure summary %q", got.Brief.Summary)
	}
}

func TestCreateAdvanced(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreate(t, env, "u1", map[string]any{
		"mode":         "advanced",
		"condition":    "breast cancer",
		"intervention": "trastuzumab",
		"operator":     "or",
	})
	if created.Topic != "breast cancer + trastuzumab" {
		t.Fatalf("unexpected topic %q", created.Topic)
	}
	want := "(AREA[ConditionSearch]breast cancer OR AREA[InterventionSearch]trastuzumab) AND AREA[StudyType]Interventional"
	if len(env.searcher.queries) != 1 || env.searcher.queries[0] != want {
		t.Fatalf("expected query %q, got %v", want, env.searcher.queries)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []any{
		map[string]any{"topic": ""},
		map[string]any{"topic": "x"},
		map[string]any{"mode": "advanced"},
		map[string]any{"mode": "fuzzy", "topic": "asthma"},
	}
	for _, body := range cases {
		rr := do(t, env.handler, http.MethodPost, "/v1/briefs", "u1", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %v: expected 400, got %d (%s)", body, rr.Code, rr.Body.String())
		}
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/briefs", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", rr.Code)
	}
}

func TestCreateWhenShuttingDown(t *testing.T) {
	env := newTestEnv(t)
	env.jobs.closed = true
	rr := do(t, env.handler, http.MethodPost, "/v1/briefs", "u1", map[string]any{"topic": "asthma"})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	id := strings.TrimPrefix(rr.Header().Get("Location"), "/v1/briefs/")
	if id == "" {
		t.Fatal("expected Location header with the brief id")
	}
	st, err := env.service.Status(context.Background(), id, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != brief.StatusFailed {
		t.Fatalf("expected unscheduled brief to be failed, got %s", st.Status)
	}

	env.jobs.closed = false
	rr = do(t, env.handler, http.MethodPost, "/v1/briefs/"+id+"/refresh", "u1", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected failed brief to be refreshable, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestRefreshWhenShuttingDownRestoresStatus(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreate(t, env, "u1", map[string]any{"topic": "asthma"})

	env.jobs.closed = true
	rr := do(t, env.handler, http.MethodPost, "/v1/briefs/"+created.ID+"/refresh", "u1", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	st, err := env.service.Status(context.Background(), created.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != brief.StatusCompleted || st.TrialCount != 2 {
		t.Fatalf("expected completed brief left intact, got %+v", st)
	}
}

func TestOwnershipIsEnforced(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreate(t, env, "u1", map[string]any{"topic": "asthma"})
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/v1/briefs/" + created.ID},
		{http.MethodGet, "/v1/briefs/" + created.ID + "/status"},
		{http.MethodPost, "/v1/briefs/" + created.ID + "/refresh"},
		{http.MethodDelete, "/v1/briefs/" + created.ID},
		{http.MethodGet, "/v1/briefs/" + created.ID + "/report.html"},
	} {
		rr := do(t, env.handler, tc.method, tc.path, "intruder", nil)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", tc.method, tc.path, rr.Code)
		}
	}
	rr := do(t, env.handler, http.MethodGet, "/v1/briefs/does-not-exist", "u1", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreate(t, env, "u1", map[string]any{"topic": "asthma"})
	rr := do(t, env.handler, http.MethodGet, "/v1/briefs/"+created.ID, "u1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got struct {
		Brief    brief.Brief   `json:"brief"`
		Trials   []brief.Trial `json:"trials"`
		Stats    brief.Stats   `json:"trial_stats"`
		Sponsors []string      `json:"sponsors"`
		Sections []struct {
			Title string `json:"title"`
		} `json:"summary_sections"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Trials) != 2 || got.Stats.Phase3 != 2 || got.Stats.Active != 2 {
		t.Fatalf("unexpected dashboard: trials=%d stats=%+v", len(got.Trials), got.Stats)
	}
	if len(got.Sponsors) != 1 || got.Sponsors[0] != "Acme Bio" {
		t.Fatalf("unexpected sponsors %v", got.Sponsors)
	}
	if len(got.Sections) == 0 || got.Sections[0].Title != "Clinical Trial Analysis for asthma" {
		t.Fatalf("expected summary sections from the demo narrative, got %+v", got.Sections)
	}
}

func TestListFiltersAndPaging(t *testing.T) {
	env := newTestEnv(t)
	mustCreate(t, env, "u1", map[string]any{"topic": "asthma"})
	mustCreate(t, env, "u1", map[string]any{"topic": "lupus"})
	mustCreate(t, env, "u2", map[string]any{"topic": "asthma severe"})

	rr := do(t, env.handler, http.MethodGet, "/v1/briefs?search=ast&limit=10", "u1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got struct {
		Briefs []brief.Brief `json:"briefs"`
		Total  int           `json:"total"`
		Limit  int           `json:"limit"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Total != 1 || len(got.Briefs) != 1 || got.Briefs[0].Topic != "asthma" {
		t.Fatalf("unexpected list: %+v", got)
	}
	if got.Limit != 10 {
		t.Fatalf("expected limit 10, got %d", got.Limit)
	}

	rr = do(t, env.handler, http.MethodGet, "/v1/briefs?status=bogus", "u1", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", rr.Code)
	}
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreate(t, env, "u1", map[string]any{"topic": "asthma"})

	env.jobs.hold = true
	rr := do(t, env.handler, http.MethodPost, "/v1/briefs/"+created.ID+"/refresh", "u1", nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := decode[briefEnvelope](t, rr).Brief; got.Status != brief.StatusGenerating {
		t.Fatalf("expected generating after refresh start, got %s", got.Status)
	}

	rr = do(t, env.handler, http.MethodPost, "/v1/briefs/"+created.ID+"/refresh", "u1", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while generating, got %d", rr.Code)
	}

	for _, job := range env.jobs.held {
		if err := job(context.Background()); err != nil {
			t.Fatalf("refresh job: %v", err)
		}
	}
	st, err := env.service.Status(context.Background(), created.ID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != brief.StatusCompleted {
		t.Fatalf("expected completed after refresh, got %s", st.Status)
	}
	if n := len(env.searcher.queries); n != 2 || env.searcher.queries[1] != "asthma" {
		t.Fatalf("expected refresh to reuse the recorded query, got %v", env.searcher.queries)
	}
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreate(t, env, "u1", map[string]any{"topic": "asthma"})
	rr := do(t, env.handler, http.MethodDelete, "/v1/briefs/"+created.ID, "u1", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	rr = do(t, env.handler, http.MethodGet, "/v1/briefs/"+created.ID, "u1", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestReportHTMLAndPDF(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreate(t, env, "u1", map[string]any{"topic": "asthma"})

	rr := do(t, env.handler, http.MethodGet, "/v1/briefs/"+created.ID+"/report.html", "u1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "NCT00000001") {
		t.Fatal("expected trial table in html report")
	}

	rr = do(t, env.handler, http.MethodGet, "/v1/briefs/"+created.ID+"/report.pdf", "u1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("unexpected content type %q", rr.Header().Get("Content-Type"))
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "scanx-asthma-20250601.pdf") {
		t.Fatalf("unexpected disposition %q", rr.Header().Get("Content-Disposition"))
	}
	if len(env.pdf.docs) != 1 || !strings.Contains(env.pdf.docs[0], "<html>") {
		t.Fatalf("expected html handed to the renderer, got %d docs", len(env.pdf.docs))
	}
}

func TestReportPDFRendererFailure(t *testing.T) {
	env := newTestEnv(t)
	created := mustCreate(t, env, "u1", map[string]any{"topic": "asthma"})
	env.pdf.err = errors.New("chrome missing")
	rr := do(t, env.handler, http.MethodGet, "/v1/briefs/"+created.ID+"/report.pdf", "u1", nil)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
