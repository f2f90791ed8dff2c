package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"goldwatch/internal/gold"
)

type APIResponse[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[string]{
		Message: message,
		Data:    "",
	})
}

func writeCSV(w http.ResponseWriter, observations []gold.Observation) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=gold-history.csv")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprintln(w, "Source,Price,Unit,CapturedAt")
	for _, o := range observations {
		_, _ = fmt.Fprintf(w, "%s,%s,%s,%s\n",
			o.Source,
			gold.FormatPrice(o.Price),
			o.Unit,
			o.CapturedAt.Format(time.RFC3339),
		)
	}
}
