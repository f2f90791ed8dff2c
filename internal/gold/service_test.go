package gold

import (
	"context"
	"errors"
	"testing"
	"time"

	"goldwatch/internal/apperror"
)

// --- mock repository ---
type mockRepo struct {
	latest *Observation
	err    error
}

func (m *mockRepo) Latest(_ context.Context, _ Source) (*Observation, error) {
	return m.latest, m.err
}

func (m *mockRepo) ListSince(_ context.Context, _ Source, _ *int) ([]Observation, error) {
	if m.latest == nil {
		return nil, nil
	}
	return []Observation{*m.latest}, nil
}

// --- mock scraper ---
type mockScraper struct {
	calls int
	obs   *Observation
	err   error
}

func (m *mockScraper) Scrape(_ context.Context, _ Source) (*Observation, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.obs, nil
}

func frozen(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGetPrice_FreshCacheSkipsScrape(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockRepo{latest: &Observation{
		ID: 1, Source: SourceCCB, Price: 628.5, Unit: "元/克", CapturedAt: now.Add(-3 * time.Second),
	}}
	scraper := &mockScraper{}
	svc := NewService(repo, scraper)
	svc.now = frozen(now)

	v, err := svc.GetPrice(context.Background(), SourceCCB, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Provenance != ProvenanceCache {
		t.Errorf("expected cache provenance, got %s", v.Provenance)
	}
	if scraper.calls != 0 {
		t.Errorf("expected no scrape inside the freshness window, got %d", scraper.calls)
	}
	if v.FullText != "628.50元/克" {
		t.Errorf("unexpected full text %s", v.FullText)
	}
}

func TestGetPrice_StaleTriggersLiveScrape(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockRepo{latest: &Observation{
		ID: 1, Source: SourceCCB, Price: 620.0, Unit: "元/克", CapturedAt: now.Add(-time.Minute),
	}}
	scraper := &mockScraper{obs: &Observation{
		ID: 2, Source: SourceCCB, Price: 629.0, Unit: "元/克", CapturedAt: now,
	}}
	svc := NewService(repo, scraper)
	svc.now = frozen(now)

	v, err := svc.GetPrice(context.Background(), SourceCCB, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Provenance != ProvenanceLive {
		t.Errorf("expected live provenance, got %s", v.Provenance)
	}
	if v.Price != 629.0 {
		t.Errorf("expected fresh price, got %f", v.Price)
	}
	if scraper.calls != 1 {
		t.Errorf("expected 1 scrape, got %d", scraper.calls)
	}
}

func TestGetPrice_CacheOnlyReturnsStaleWithoutScrape(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockRepo{latest: &Observation{
		ID: 1, Source: SourceCMB, Price: 730.0, Unit: "元/克", CapturedAt: now.Add(-time.Hour),
	}}
	scraper := &mockScraper{}
	svc := NewService(repo, scraper)
	svc.now = frozen(now)

	v, err := svc.GetPrice(context.Background(), SourceCMB, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Provenance != ProvenanceCache {
		t.Errorf("expected cache provenance, got %s", v.Provenance)
	}
	if scraper.calls != 0 {
		t.Errorf("expected no scrape in cacheOnly mode, got %d", scraper.calls)
	}
}

func TestGetPrice_ScrapeFailureFallsBackToHistory(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockRepo{latest: &Observation{
		ID: 1, Source: SourceCCB, Price: 620.0, Unit: "元/克", CapturedAt: now.Add(-time.Hour),
	}}
	scraper := &mockScraper{err: errors.New("browser crashed")}
	svc := NewService(repo, scraper)
	svc.now = frozen(now)

	v, err := svc.GetPrice(context.Background(), SourceCCB, false)
	if err != nil {
		t.Fatalf("expected stale fallback, got error: %v", err)
	}
	if v.Provenance != ProvenanceCache {
		t.Errorf("expected cache provenance, got %s", v.Provenance)
	}
	if v.Price != 620.0 {
		t.Errorf("expected stored price, got %f", v.Price)
	}
}

func TestGetPrice_NoHistoryAndScrapeFailure(t *testing.T) {
	repo := &mockRepo{}
	scraper := &mockScraper{err: errors.New("browser crashed")}
	svc := NewService(repo, scraper)

	_, err := svc.GetPrice(context.Background(), SourceCMB, false)
	if err == nil {
		t.Fatal("expected an error when no history exists")
	}
	ae, ok := err.(*apperror.AppError)
	if !ok {
		t.Fatalf("expected AppError, got %T", err)
	}
	if ae.Code() != apperror.NotFound {
		t.Errorf("expected NOT_FOUND, got %s", ae.Code())
	}
}

func TestGetPrice_BurstWithinWindowScrapesOnce(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := &mockRepo{}
	fresh := &Observation{ID: 1, Source: SourceCCB, Price: 628.0, Unit: "元/克", CapturedAt: now}
	scraper := &mockScraper{obs: fresh}
	svc := NewService(repo, scraper)
	svc.now = frozen(now)

	first, err := svc.GetPrice(context.Background(), SourceCCB, false)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	if first.Provenance != ProvenanceLive {
		t.Errorf("expected live, got %s", first.Provenance)
	}

	// The scrape persisted an observation; the second call inside the window
	// must serve it from cache.
	repo.latest = fresh
	second, err := svc.GetPrice(context.Background(), SourceCCB, false)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if second.Provenance != ProvenanceCache {
		t.Errorf("expected cache, got %s", second.Provenance)
	}
	if scraper.calls != 1 {
		t.Errorf("expected exactly 1 underlying scrape, got %d", scraper.calls)
	}
}
