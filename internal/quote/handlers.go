package quote

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// Handlers serves the read-only market-data passthrough endpoints.
type Handlers struct {
	provider Provider
}

// NewHandlers creates market-data HTTP handlers over a provider.
func NewHandlers(p Provider) *Handlers {
	return &Handlers{provider: p}
}

// GetQuote handles GET /api/v1/quotes/{ticker}.
func (h *Handlers) GetQuote(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	q, err := h.provider.GetQuote(r.Context(), ticker)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(q)
}

// GetCandles handles GET /api/v1/quotes/{ticker}/candles?resolution=D&from=&to=.
func (h *Handlers) GetCandles(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	resolution := r.URL.Query().Get("resolution")
	if resolution == "" {
		resolution = "D"
	}
	from, err1 := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if err1 != nil || err2 != nil || from > to {
		writeJSONError(w, "from and to must be valid unix timestamps", http.StatusBadRequest)
		return
	}

	candles, err := h.provider.GetCandles(r.Context(), ticker, resolution, from, to)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(candles)
}

// SearchSymbols handles GET /api/v1/symbols?q=.
func (h *Handlers) SearchSymbols(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSONError(w, "q is required", http.StatusBadRequest)
		return
	}

	matches, err := h.provider.SearchSymbols(r.Context(), query)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	if matches == nil {
		matches = []SymbolMatch{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(matches)
}

// GetCompanyNews handles GET /api/v1/quotes/{ticker}/news. Returns the last
// seven days of articles.
func (h *Handlers) GetCompanyNews(w http.ResponseWriter, r *http.Request) {
	ticker := chi.URLParam(r, "ticker")

	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)

	items, err := h.provider.GetCompanyNews(r.Context(), ticker, from, to)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	if items == nil {
		items = []NewsItem{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items)
}

func writeUpstreamError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrUnavailable) {
		writeJSONError(w, "market data unavailable", http.StatusBadGateway)
		return
	}
	writeJSONError(w, "failed to fetch market data", http.StatusInternalServerError)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
