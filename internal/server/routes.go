package server

import "net/http"

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(priceSvc PriceService, runner ScrapeRunner, settings SettingsStore, schedule Schedule, cronSecret string) http.Handler {
	return newMux(priceSvc, runner, settings, schedule, cronSecret)
}

func newMux(priceSvc PriceService, runner ScrapeRunner, settings SettingsStore, schedule Schedule, cronSecret string) http.Handler {
	h := &handler{
		priceSvc:   priceSvc,
		runner:     runner,
		settings:   settings,
		schedule:   schedule,
		cronSecret: cronSecret,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /api/v1/gold/price", h.getPrice)
	mux.HandleFunc("GET /api/v1/gold/history", h.getHistory)
	mux.HandleFunc("GET /api/v1/cron/scrape", h.scrapeNow)
	mux.HandleFunc("GET /api/v1/cron/config", h.getCronConfig)
	mux.HandleFunc("POST /api/v1/cron/config", h.postCronConfig)
	mux.HandleFunc("GET /api/v1/settings", h.getSettings)
	mux.HandleFunc("POST /api/v1/settings", h.postSettings)

	// Apply middleware stack: recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
