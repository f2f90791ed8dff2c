package gold

import (
	"context"
	"log/slog"
	"time"

	"goldwatch/internal/apperror"
)

// FreshnessWindow is how long a stored observation satisfies a live request
// outright. It protects the browser driver from being launched more than
// once per window under request bursts.
const FreshnessWindow = 10 * time.Second

// Repository is the observation read surface the service needs.
type Repository interface {
	Latest(ctx context.Context, source Source) (*Observation, error)
	ListSince(ctx context.Context, source Source, days *int) ([]Observation, error)
}

// Scraper runs one live scrape-and-persist for a source.
type Scraper interface {
	Scrape(ctx context.Context, source Source) (*Observation, error)
}

type Service struct {
	repo     Repository
	pipeline Scraper
	now      func() time.Time
}

func NewService(repo Repository, pipeline Scraper) *Service {
	return &Service{
		repo:     repo,
		pipeline: pipeline,
		now:      time.Now,
	}
}

// GetPrice serves the read path with a two-tier fallback: a stored
// observation inside the freshness window (or any stored observation when
// cacheOnly is set) is returned without scraping; otherwise a live scrape
// runs, and on scrape failure the last stored observation is returned as a
// stale fallback. The call fails only when the source has no history at all.
func (s *Service) GetPrice(ctx context.Context, source Source, cacheOnly bool) (*PriceView, error) {
	latest, err := s.repo.Latest(ctx, source)
	if err != nil {
		slog.Warn("latest observation read failed", "source", source, "error", err)
		latest = nil
	}
	if latest != nil && (cacheOnly || s.now().Sub(latest.CapturedAt) < FreshnessWindow) {
		return view(latest, ProvenanceCache), nil
	}

	o, err := s.pipeline.Scrape(ctx, source)
	if err == nil {
		return view(o, ProvenanceLive), nil
	}
	slog.Error("live scrape failed, falling back to stored value", "source", source, "error", err)

	latest, lerr := s.repo.Latest(ctx, source)
	if lerr == nil && latest != nil {
		return view(latest, ProvenanceCache), nil
	}
	return nil, apperror.New(apperror.NotFound, "no price data yet for source "+string(source))
}

// History returns a source's observations newest first, the whole history
// when days is nil.
func (s *Service) History(ctx context.Context, source Source, days *int) ([]Observation, error) {
	return s.repo.ListSince(ctx, source, days)
}

func view(o *Observation, provenance Provenance) *PriceView {
	return &PriceView{
		Source:     o.Source,
		Price:      o.Price,
		Unit:       o.Unit,
		FullText:   FormatPrice(o.Price) + o.Unit,
		Provenance: provenance,
		CapturedAt: o.CapturedAt,
	}
}
