// Package scrape composes the browser driver, the extractor, and the
// observation store into one "scrape one source" operation.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"goldwatch/internal/browser"
	"goldwatch/internal/gold"
	"goldwatch/internal/repository/settings"
)

// Capturer is implemented by the browser driver.
type Capturer interface {
	Capture(ctx context.Context, url string, source gold.Source) (*browser.Signal, error)
}

// URLResolver reads the configured page URL per source.
type URLResolver interface {
	ScraperURLs(ctx context.Context) (map[gold.Source]string, error)
}

// ObservationStore appends scraped observations.
type ObservationStore interface {
	Insert(ctx context.Context, source gold.Source, price float64, unit string, capturedAt time.Time) (*gold.Observation, error)
}

type Pipeline struct {
	browser Capturer
	urls    URLResolver
	store   ObservationStore
}

func NewPipeline(browser Capturer, urls URLResolver, store ObservationStore) *Pipeline {
	return &Pipeline{
		browser: browser,
		urls:    urls,
		store:   store,
	}
}

// Scrape captures one source's page, extracts a normalized price, persists it,
// and returns the stored observation. No retries: callers fall back to cached
// history instead.
func (p *Pipeline) Scrape(ctx context.Context, source gold.Source) (*gold.Observation, error) {
	url := p.resolveURL(ctx, source)
	slog.Info("scraping", "source", source, "url", url)

	sig, err := p.browser.Capture(ctx, url, source)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", source, err)
	}

	ex, ok := p.extract(sig, source)
	if !ok {
		return nil, fmt.Errorf("scrape %s: %w", source, gold.ErrPatternNotFound)
	}

	o, err := p.store.Insert(ctx, source, ex.Price, ex.Unit, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("scrape %s: persist: %w", source, err)
	}

	slog.Info("scrape success", "source", source, "price", o.Price, "capturedAt", o.CapturedAt)
	return o, nil
}

// extract prefers the structured DOM reading; the free-text scan over body
// text plus HTML is the fallback when no element yielded a positive value.
func (p *Pipeline) extract(sig *browser.Signal, source gold.Source) (gold.Extracted, bool) {
	if sig.StructuredValue > 0 {
		return gold.Normalize(sig.StructuredValue, source), true
	}
	return gold.Extract(sig.BodyText+" "+sig.HTML, source)
}

// resolveURL must never block a scrape on a settings-store outage: a failed
// read falls back to the compiled-in default URL.
func (p *Pipeline) resolveURL(ctx context.Context, source gold.Source) string {
	urls, err := p.urls.ScraperURLs(ctx)
	if err != nil {
		slog.Warn("settings unavailable, using default url", "source", source, "error", err)
		return settings.DefaultURL(source)
	}
	if url := urls[source]; url != "" {
		return url
	}
	return settings.DefaultURL(source)
}

// Result is the outcome of scraping one source during a scrape-all run.
type Result struct {
	Source      gold.Source
	Observation *gold.Observation
	Err         error
}

// ScrapeAll scrapes every source concurrently. One source failing never
// cancels or fails the others; each result carries its own error.
func (p *Pipeline) ScrapeAll(ctx context.Context) []Result {
	sources := gold.Sources()
	results := make([]Result, len(sources))

	var g errgroup.Group
	for i, source := range sources {
		g.Go(func() error {
			o, err := p.Scrape(ctx, source)
			results[i] = Result{Source: source, Observation: o, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
