package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"goldwatch/internal/apperror"
	"goldwatch/internal/gold"
	"goldwatch/internal/scrape"
)

var scheduleStartErr = errors.New("invalid cron expression")

// --- mock price service ---
type mockPriceSvc struct {
	view    *gold.PriceView
	history []gold.Observation
	err     error
}

func (m *mockPriceSvc) GetPrice(_ context.Context, _ gold.Source, _ bool) (*gold.PriceView, error) {
	return m.view, m.err
}

func (m *mockPriceSvc) History(_ context.Context, _ gold.Source, _ *int) ([]gold.Observation, error) {
	return m.history, m.err
}

// --- mock scrape runner ---
type mockRunner struct {
	results []scrape.Result
	calls   int
}

func (m *mockRunner) ScrapeAll(_ context.Context) []scrape.Result {
	m.calls++
	return m.results
}

// --- mock settings store ---
type mockSettings struct {
	urls       map[gold.Source]string
	enabled    bool
	expression string
}

func (m *mockSettings) ScraperURLs(_ context.Context) (map[gold.Source]string, error) {
	return m.urls, nil
}

func (m *mockSettings) SetScraperURLs(_ context.Context, urls map[gold.Source]string) error {
	m.urls = urls
	return nil
}

func (m *mockSettings) CronConfig(_ context.Context) (bool, string, error) {
	return m.enabled, m.expression, nil
}

func (m *mockSettings) SaveCronConfig(_ context.Context, enabled bool, expression string) error {
	m.enabled = enabled
	m.expression = expression
	return nil
}

// --- mock schedule ---
type mockSchedule struct {
	armed      bool
	expression string
	startErr   error
}

func (m *mockSchedule) Start(expression string) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.armed = true
	m.expression = expression
	return nil
}

func (m *mockSchedule) Stop() {
	m.armed = false
	m.expression = ""
}

func (m *mockSchedule) Status() (bool, string)     { return m.armed, m.expression }
func (m *mockSchedule) EnsureStartedFromPersisted() {}

func newTestHandler(p *mockPriceSvc, r *mockRunner, s *mockSettings, sc *mockSchedule) http.Handler {
	if s.urls == nil {
		s.urls = map[gold.Source]string{gold.SourceCCB: "https://a", gold.SourceCMB: "https://b"}
	}
	return NewHandler(p, r, s, sc, "test-secret")
}

func TestGetPrice_Provenance(t *testing.T) {
	p := &mockPriceSvc{view: &gold.PriceView{
		Source:     gold.SourceCCB,
		Price:      628.5,
		Unit:       "元/克",
		FullText:   "628.50元/克",
		Provenance: gold.ProvenanceCache,
		CapturedAt: time.Now(),
	}}
	h := newTestHandler(p, &mockRunner{}, &mockSettings{}, &mockSchedule{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/gold/price?source=ccb", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp APIResponse[pricePayload]
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Provenance != gold.ProvenanceCache {
		t.Errorf("expected cache provenance, got %s", resp.Data.Provenance)
	}
	if resp.Data.Price != "628.50" {
		t.Errorf("expected two-decimal price, got %s", resp.Data.Price)
	}
}

func TestGetPrice_NoData(t *testing.T) {
	p := &mockPriceSvc{err: apperror.New(apperror.NotFound, "no price data yet for source ccb")}
	h := newTestHandler(p, &mockRunner{}, &mockSettings{}, &mockSchedule{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/gold/price", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestScrapeNow_RequiresBearerToken(t *testing.T) {
	r := &mockRunner{}
	h := newTestHandler(&mockPriceSvc{}, r, &mockSettings{}, &mockSchedule{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/cron/scrape", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if r.calls != 0 {
		t.Error("expected no scrape without authorization")
	}

	req := httptest.NewRequest("GET", "/api/v1/cron/scrape", nil)
	req.Header.Set("Authorization", "Bearer test-secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	if r.calls != 1 {
		t.Errorf("expected 1 scrape-all run, got %d", r.calls)
	}
}

func TestPostCronConfig_InvalidMinutes(t *testing.T) {
	h := newTestHandler(&mockPriceSvc{}, &mockRunner{}, &mockSettings{}, &mockSchedule{})

	body := strings.NewReader(`{"enabled": true, "intervalMinutes": 100000}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/cron/config", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPostCronConfig_IntervalBecomesExpression(t *testing.T) {
	s := &mockSettings{}
	sc := &mockSchedule{}
	h := newTestHandler(&mockPriceSvc{}, &mockRunner{}, s, sc)

	body := strings.NewReader(`{"enabled": true, "intervalMinutes": 15}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/cron/config", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !sc.armed || sc.expression != "*/15 * * * *" {
		t.Errorf("expected armed with */15 * * * *, got armed=%v expr=%q", sc.armed, sc.expression)
	}
	if !s.enabled || s.expression != "*/15 * * * *" {
		t.Errorf("expected persisted config, got enabled=%v expr=%q", s.enabled, s.expression)
	}
}

func TestPostCronConfig_DisableStopsSchedule(t *testing.T) {
	s := &mockSettings{enabled: true, expression: "*/5 * * * *"}
	sc := &mockSchedule{armed: true, expression: "*/5 * * * *"}
	h := newTestHandler(&mockPriceSvc{}, &mockRunner{}, s, sc)

	body := strings.NewReader(`{"enabled": false}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/cron/config", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sc.armed {
		t.Error("expected schedule stopped")
	}
	if s.enabled {
		t.Error("expected persisted config disabled")
	}
	if s.expression != "*/5 * * * *" {
		t.Errorf("expected expression preserved on disable, got %q", s.expression)
	}
}

func TestPostSettings_WarnsOnBadExpression(t *testing.T) {
	s := &mockSettings{}
	sc := &mockSchedule{startErr: scheduleStartErr}
	h := newTestHandler(&mockPriceSvc{}, &mockRunner{}, s, sc)

	body := strings.NewReader(`{
		"scrapeUrls": {"ccb": "https://a", "cmb": "https://b"},
		"cron": {"enabled": true, "expression": "bogus"}
	}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/settings", body))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 (saved with warning), got %d", rec.Code)
	}
	var resp APIResponse[settingsPayload]
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Warning == "" {
		t.Error("expected a warning about the failed schedule start")
	}
	if s.urls[gold.SourceCCB] != "https://a" {
		t.Error("expected urls saved despite schedule failure")
	}
}

func TestGetHistory_CSV(t *testing.T) {
	p := &mockPriceSvc{history: []gold.Observation{
		{ID: 2, Source: gold.SourceCCB, Price: 629, Unit: "元/克", CapturedAt: time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)},
		{ID: 1, Source: gold.SourceCCB, Price: 628, Unit: "元/克", CapturedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}}
	h := newTestHandler(p, &mockRunner{}, &mockSettings{}, &mockSchedule{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/gold/history?source=ccb&format=csv", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "629.00") {
		t.Errorf("expected formatted price in csv, got %s", rec.Body.String())
	}
}
