package gold

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrPatternNotFound is returned when no price pattern matches the page text.
var ErrPatternNotFound = errors.New("price pattern not found on page")

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	numberRe     = regexp.MustCompile(`\d+(?:,\d{3})*(?:\.\d+)?`)

	perGramRe = regexp.MustCompile(`(\d+(?:,\d{3})*(?:\.\d+)?)\s*元/克`)
	yuanRe    = regexp.MustCompile(`(\d+(?:,\d{3})*(?:\.\d+)?)\s*元`)
	symbolRe  = regexp.MustCompile(`[¥￥]\s*(\d+(?:,\d{3})*(?:\.\d+)?)`)

	// CMB quotes per 10克. Patterns tried in order: a 10克 label followed by
	// a figure, a ¥-prefixed figure anchored to /10克, a bare 元 figure
	// anchored to /10克.
	tenGramRes = []*regexp.Regexp{
		regexp.MustCompile(`10\s*克[^0-9¥￥]*[¥￥]?\s*(\d+(?:,\d{3})*(?:\.\d+)?)`),
		regexp.MustCompile(`[¥￥]\s*(\d+(?:,\d{3})*(?:\.\d+)?)\s*(?:元)?\s*/?\s*10\s*克`),
		regexp.MustCompile(`(\d+(?:,\d{3})*(?:\.\d+)?)\s*元\s*/?\s*10\s*克`),
	}
)

// Extracted is a normalized price pulled out of raw page text. Price is
// always denominated in 元/克; FullText keeps the original phrasing for
// display, including CMB's per-10克 quote.
type Extracted struct {
	Price    float64
	Unit     string
	FullText string
}

// Extract scans raw page text for a gold price using source-specific
// heuristics. It never fails on malformed input; when no pattern yields a
// positive price it reports ok=false.
//
// The quoted price is reliably the largest figure on the page (surrounding
// chrome contains smaller incidental numbers), so when no anchored per-gram
// pattern matches, the maximum bare currency-marked candidate wins.
func Extract(raw string, source Source) (Extracted, bool) {
	text := whitespaceRe.ReplaceAllString(raw, " ")

	if source == SourceCMB {
		return extractCMB(text)
	}
	return extractCCB(text)
}

func extractCCB(text string) (Extracted, bool) {
	if m := perGramRe.FindStringSubmatch(text); m != nil {
		if price, ok := parsePrice(m[1]); ok {
			return Extracted{Price: price, Unit: "元/克", FullText: m[0]}, true
		}
	}

	candidates := collect(yuanRe, text)
	candidates = append(candidates, collect(symbolRe, text)...)
	if price, ok := maxOf(candidates); ok {
		return Extracted{Price: price, Unit: "元/克", FullText: formatRaw(price) + "元/克"}, true
	}

	return Extracted{}, false
}

func extractCMB(text string) (Extracted, bool) {
	for _, re := range tenGramRes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if total, ok := parsePrice(m[1]); ok {
			return perTenGram(total), true
		}
	}

	if total, ok := maxOf(collect(yuanRe, text)); ok {
		return perTenGram(total), true
	}

	return Extracted{}, false
}

// Normalize converts a structured page reading into a stored price. CMB's
// structured elements quote per 10克 and are divided down like the text path.
func Normalize(raw float64, source Source) Extracted {
	if source == SourceCMB {
		return perTenGram(raw)
	}
	return Extracted{Price: raw, Unit: "元/克", FullText: formatRaw(raw) + "元/克"}
}

func perTenGram(total float64) Extracted {
	return Extracted{
		Price:    total / 10,
		Unit:     "元/克",
		FullText: formatRaw(total) + "元/10克",
	}
}

// ParseNumber pulls the first decimal number out of s, stripping thousands
// separators. Non-finite and non-positive values are rejected.
func ParseNumber(s string) (float64, bool) {
	return parsePrice(numberRe.FindString(s))
}

func parsePrice(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return 0, false
	}
	return v, true
}

func collect(re *regexp.Regexp, text string) []float64 {
	var values []float64
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if v, ok := parsePrice(m[1]); ok {
			values = append(values, v)
		}
	}
	return values
}

func maxOf(values []float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	best := values[0]
	for _, v := range values[1:] {
		if v > best {
			best = v
		}
	}
	return best, true
}

// formatRaw renders a number the way it appeared on the page: no trailing
// zeros, no forced precision.
func formatRaw(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
