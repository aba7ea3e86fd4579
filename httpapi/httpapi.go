// Package httpapi is the thin HTTP surface over the queue: listing, CSV
// export, bulk clear, immediate submission and the key-verification route.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/patrice-hue/indexrelay"
	"github.com/patrice-hue/indexrelay/datastore"
	"github.com/patrice-hue/indexrelay/keyfile"
	"github.com/patrice-hue/indexrelay/queue"
)

const defaultPerPage = 20

type Handler struct {
	Store     datastore.Store
	Submitter *indexrelay.Submitter

	// APIKey is the IndexNow site key; when set, the well-known
	// verification route is registered.
	APIKey string

	Logger *zap.Logger
}

// Routes builds the mux for the whole API surface.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/queue", h.listQueue)
	mux.HandleFunc("GET /api/queue/export", h.exportCSV)
	mux.HandleFunc("POST /api/queue/clear", h.clearQueue)
	mux.HandleFunc("POST /api/queue", h.bulkEnqueue)
	mux.HandleFunc("POST /api/submit", h.submitNow)

	if h.APIKey != "" {
		mux.Handle("GET "+keyfile.RoutePath(h.APIKey), keyfile.Handler(h.APIKey))
	}

	return mux
}

type listResponse struct {
	Items   []queue.Item `json:"items"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
}

func (h *Handler) listQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}

	f := datastore.Filter{
		Status:  queue.Status(q.Get("status")),
		Engine:  q.Get("engine"),
		PerPage: defaultPerPage,
		Offset:  (page - 1) * defaultPerPage,
		OrderBy: q.Get("orderby"),
		Order:   q.Get("order"),
	}

	items, total, err := h.Store.Query(r.Context(), f)
	if err != nil {
		h.fail(w, "failed to query queue", err)
		return
	}

	h.json(w, http.StatusOK, listResponse{
		Items:   items,
		Total:   total,
		Page:    page,
		PerPage: defaultPerPage,
	})
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	csvBytes, err := h.Store.ExportCSV(r.Context())
	if err != nil {
		h.fail(w, "failed to export queue", err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="submission-queue.csv"`)
	_, _ = w.Write(csvBytes)
}

func (h *Handler) clearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.ClearAll(r.Context()); err != nil {
		h.fail(w, "failed to clear queue", err)
		return
	}

	h.json(w, http.StatusOK, map[string]string{"message": "queue cleared"})
}

type enqueueRequest struct {
	URLs    []string `json:"urls"`
	Engines []string `json:"engines"`
}

func (h *Handler) bulkEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.json(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	engines := req.Engines
	if len(engines) == 0 {
		engines = []string{queue.EngineBing, queue.EngineGoogle}
	}

	queued, err := h.Submitter.BulkEnqueue(r.Context(), req.URLs, queue.EngineSet(engines))
	if err != nil {
		h.fail(w, "failed to enqueue", err)
		return
	}

	h.json(w, http.StatusAccepted, map[string]int{"queued": queued})
}

type submitRequest struct {
	URLs    string   `json:"urls"` // raw text, newline or comma separated
	Engines []string `json:"engines"`
	Action  string   `json:"action"`
}

func (h *Handler) submitNow(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.json(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	engines := req.Engines
	if len(engines) == 0 {
		engines = []string{queue.EngineBing, queue.EngineGoogle}
	}

	action := queue.Action(req.Action)
	if action != queue.ActionDeleted {
		action = queue.ActionUpdated
	}

	results, err := h.Submitter.SubmitNow(r.Context(), indexrelay.ParseURLList(req.URLs), engines, action)
	if errors.Is(err, indexrelay.ErrNoValidURLs) {
		h.json(w, http.StatusBadRequest, map[string]string{"error": "no valid urls provided"})
		return
	}
	if err != nil {
		h.fail(w, "failed to submit", err)
		return
	}

	h.json(w, http.StatusOK, map[string]interface{}{"results": results})
}

func (h *Handler) json(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.Logger.Error(msg, zap.Error(err))
	h.json(w, http.StatusInternalServerError, map[string]string{"error": msg})
}
