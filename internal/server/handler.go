package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"goldwatch/internal/apperror"
	"goldwatch/internal/gold"
	"goldwatch/internal/scheduler"
	"goldwatch/internal/scrape"
)

// PriceService is the read path: freshness-cached price plus history.
type PriceService interface {
	GetPrice(ctx context.Context, source gold.Source, cacheOnly bool) (*gold.PriceView, error)
	History(ctx context.Context, source gold.Source, days *int) ([]gold.Observation, error)
}

// ScrapeRunner triggers an immediate scrape of every source.
type ScrapeRunner interface {
	ScrapeAll(ctx context.Context) []scrape.Result
}

// SettingsStore persists scraper URLs and the cron configuration.
type SettingsStore interface {
	ScraperURLs(ctx context.Context) (map[gold.Source]string, error)
	SetScraperURLs(ctx context.Context, urls map[gold.Source]string) error
	CronConfig(ctx context.Context) (enabled bool, expression string, err error)
	SaveCronConfig(ctx context.Context, enabled bool, expression string) error
}

// Schedule is the runtime cron slot.
type Schedule interface {
	Start(expression string) error
	Stop()
	Status() (armed bool, expression string)
	EnsureStartedFromPersisted()
}

type handler struct {
	priceSvc   PriceService
	runner     ScrapeRunner
	settings   SettingsStore
	schedule   Schedule
	cronSecret string
}

// bootstrap kicks the one-time scheduler reconciliation without blocking the
// request; every read/write entry point calls it on first use.
func (h *handler) bootstrap() {
	go h.schedule.EnsureStartedFromPersisted()
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type pricePayload struct {
	Source     gold.Source     `json:"source"`
	Price      string          `json:"price"`
	Unit       string          `json:"unit"`
	FullText   string          `json:"fullText"`
	Provenance gold.Provenance `json:"provenance"`
	Timestamp  time.Time       `json:"timestamp"`
}

func (h *handler) getPrice(w http.ResponseWriter, r *http.Request) {
	h.bootstrap()

	source := gold.ParseSource(r.URL.Query().Get("source"))
	cacheOnly := r.URL.Query().Get("cacheOnly") == "1"

	v, err := h.priceSvc.GetPrice(r.Context(), source, cacheOnly)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, pricePayload{
		Source:     v.Source,
		Price:      gold.FormatPrice(v.Price),
		Unit:       v.Unit,
		FullText:   v.FullText,
		Provenance: v.Provenance,
		Timestamp:  v.CapturedAt,
	})
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	h.bootstrap()

	source := gold.ParseSource(r.URL.Query().Get("source"))

	var days *int
	if v := r.URL.Query().Get("days"); v != "" && v != "all" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = &n
		}
	}

	observations, err := h.priceSvc.History(r.Context(), source, days)
	if err != nil {
		writeAppError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeCSV(w, observations)
		return
	}
	writeJSON(w, http.StatusOK, observations)
}

type scrapeResultPayload struct {
	Source gold.Source       `json:"source"`
	Data   *gold.Observation `json:"data,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// scrapeNow is the bearer-token-protected trigger for external cron services.
func (h *handler) scrapeNow(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer "+h.cronSecret {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	results := h.runner.ScrapeAll(r.Context())
	payload := make([]scrapeResultPayload, len(results))
	for i, res := range results {
		payload[i] = scrapeResultPayload{Source: res.Source, Data: res.Observation}
		if res.Err != nil {
			payload[i].Error = res.Err.Error()
		}
	}

	writeJSON(w, http.StatusOK, payload)
}

type cronConfigPayload struct {
	Enabled    bool   `json:"enabled"`
	Expression string `json:"expression"`
}

func (h *handler) getCronConfig(w http.ResponseWriter, r *http.Request) {
	h.bootstrap()

	enabled, expression, err := h.settings.CronConfig(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}

	// Persisted config is the source of truth; re-arm a timer that somehow
	// is not running (e.g. an earlier start failed). A failure here does not
	// fail the read.
	if enabled && expression != "" {
		if armed, _ := h.schedule.Status(); !armed {
			if err := h.schedule.Start(expression); err != nil {
				slog.Error("failed to start schedule from persisted config", "error", err)
			}
		}
	}

	armed, runtimeExpr := h.schedule.Status()
	out := cronConfigPayload{Enabled: enabled || armed, Expression: expression}
	if out.Expression == "" {
		out.Expression = runtimeExpr
	}
	writeJSON(w, http.StatusOK, out)
}

type cronConfigRequest struct {
	Enabled         *bool  `json:"enabled"`
	Expression      string `json:"expression"`
	IntervalMinutes int    `json:"intervalMinutes"`
}

func (h *handler) postCronConfig(w http.ResponseWriter, r *http.Request) {
	var req cronConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	ctx := r.Context()

	if !*req.Enabled {
		h.schedule.Stop()
		_, current, err := h.settings.CronConfig(ctx)
		if err != nil {
			writeAppError(w, err)
			return
		}
		if err := h.settings.SaveCronConfig(ctx, false, current); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cronConfigPayload{Enabled: false, Expression: current})
		return
	}

	expression := req.Expression
	if expression == "" && req.IntervalMinutes != 0 {
		if req.IntervalMinutes < 1 || req.IntervalMinutes > 720 {
			writeError(w, http.StatusBadRequest, "intervalMinutes must be between 1 and 720")
			return
		}
		expression = "*/" + strconv.Itoa(req.IntervalMinutes) + " * * * *"
	}
	if expression == "" {
		writeError(w, http.StatusBadRequest, "missing cron expression")
		return
	}

	if err := h.schedule.Start(expression); err != nil {
		if errors.Is(err, scheduler.ErrInvalidExpression) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeAppError(w, err)
		return
	}

	if err := h.settings.SaveCronConfig(ctx, true, expression); err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cronConfigPayload{Enabled: true, Expression: expression})
}

type settingsPayload struct {
	ScrapeURLs map[gold.Source]string `json:"scrapeUrls"`
	Cron       cronConfigPayload      `json:"cron"`
	Warning    string                 `json:"warning,omitempty"`
}

func (h *handler) getSettings(w http.ResponseWriter, r *http.Request) {
	h.bootstrap()

	urls, err := h.settings.ScraperURLs(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	enabled, expression, err := h.settings.CronConfig(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, settingsPayload{
		ScrapeURLs: urls,
		Cron:       cronConfigPayload{Enabled: enabled, Expression: expression},
	})
}

type settingsRequest struct {
	ScrapeURLs map[gold.Source]string `json:"scrapeUrls"`
	Cron       *cronConfigRequest     `json:"cron"`
}

func (h *handler) postSettings(w http.ResponseWriter, r *http.Request) {
	h.bootstrap()

	var req settingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ScrapeURLs[gold.SourceCCB] == "" || req.ScrapeURLs[gold.SourceCMB] == "" {
		writeError(w, http.StatusBadRequest, "scrapeUrls must include both sources")
		return
	}

	ctx := r.Context()
	if err := h.settings.SetScraperURLs(ctx, req.ScrapeURLs); err != nil {
		writeAppError(w, err)
		return
	}

	payload := settingsPayload{ScrapeURLs: req.ScrapeURLs}

	if req.Cron != nil && req.Cron.Enabled != nil {
		enabled := *req.Cron.Enabled
		expression := req.Cron.Expression

		if err := h.settings.SaveCronConfig(ctx, enabled, expression); err != nil {
			writeAppError(w, err)
			return
		}
		payload.Cron = cronConfigPayload{Enabled: enabled, Expression: expression}

		// Reconcile runtime state with what was just saved. A bad expression
		// does not fail the save; the client is warned instead.
		if enabled && expression != "" {
			if err := h.schedule.Start(expression); err != nil {
				payload.Warning = "settings saved but failed to start schedule: " + err.Error()
			}
		} else {
			h.schedule.Stop()
		}
	}

	writeJSON(w, http.StatusOK, payload)
}

func writeAppError(w http.ResponseWriter, err error) {
	if ae, ok := err.(*apperror.AppError); ok {
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
