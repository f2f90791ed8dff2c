package gold

import (
	"strconv"
	"time"
)

// Source identifies one of the two upstream bank gold price pages.
type Source string

const (
	// SourceCCB quotes the price directly in 元/克.
	SourceCCB Source = "ccb"
	// SourceCMB quotes the price per 10克; stored values are normalized to 元/克.
	SourceCMB Source = "cmb"
)

// ParseSource normalizes an untrusted source string. Anything other than
// "cmb" falls back to CCB, matching the query-parameter behavior of the API.
func ParseSource(s string) Source {
	if s == string(SourceCMB) {
		return SourceCMB
	}
	return SourceCCB
}

// Sources lists all scrapeable sources.
func Sources() []Source {
	return []Source{SourceCCB, SourceCMB}
}

// Observation is one persisted, immutable price reading.
type Observation struct {
	ID         int64     `json:"id"`
	Source     Source    `json:"source"`
	Price      float64   `json:"price"`
	Unit       string    `json:"unit"`
	CapturedAt time.Time `json:"timestamp"`
}

// Provenance tells a client whether a price came from a live scrape or from
// the stored history.
type Provenance string

const (
	ProvenanceLive  Provenance = "live"
	ProvenanceCache Provenance = "cache"
)

// PriceView is the read-path result: an observation plus where it came from.
type PriceView struct {
	Source     Source     `json:"source"`
	Price      float64    `json:"-"`
	Unit       string     `json:"unit"`
	FullText   string     `json:"fullText"`
	Provenance Provenance `json:"provenance"`
	CapturedAt time.Time  `json:"timestamp"`
}

// FormatPrice renders a price with two-decimal precision for display.
func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', 2, 64)
}
