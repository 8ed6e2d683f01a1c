package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"po-ledger/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadSize = 50 << 20
)

// Handler serves the ApplicationService over HTTP.
type Handler struct {
	svc app.ApplicationService
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins string, log logrus.FieldLogger) http.Handler {
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log.WithField("module", "http")))
	r.Use(Recoverer)
	r.Use(CORS(allowedOrigins))

	r.Get("/api/health", h.health)

	// Upload: body limit is managed inside the handler (multipart, up to 50 MB).
	r.Post("/api/files", h.uploadFile)

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(maxJSONBody))

		r.Get("/api/files/{id}", h.getFile)
		r.Get("/api/jobs/{id}", h.getJob)

		r.Get("/api/pos", h.listPOs)
		r.Get("/api/pos/activity", h.listPOsWithActivity)
		r.Get("/api/pos/{number}", h.getPO)
		r.Get("/api/pos/{number}/receptions", h.listReceptions)
		r.Get("/api/pos/{number}/initial-values", h.listInitialValues)
		r.Put("/api/pos/{number}/retention", h.setRetention)
		r.Post("/api/pos/{number}/deliveries", h.applyDelivery)
		r.Post("/api/pos/{number}/deliveries/bulk", h.bulkApply)
		r.Post("/api/pos/{number}/deliveries/reset", h.resetDeliveries)
		r.Post("/api/pos/{number}/target-rate", h.applyTargetRate)

		r.Get("/api/activity", h.listActivity)

		r.Post("/api/pos/{number}/snapshots", h.createSnapshot)
		r.Get("/api/pos/{number}/snapshots", h.listSnapshots)
		r.Get("/api/snapshots/{reportNumber}", h.getSnapshot)
		r.Put("/api/snapshots/{reportNumber}/retention", h.updateSnapshotRetention)
		r.Get("/api/snapshots/{reportNumber}/context", h.msrnContext)

		r.Get("/api/pos/{number}/timeline", h.getTimeline)
		r.Put("/api/pos/{number}/timeline", h.saveTimeline)
		r.Put("/api/pos/{number}/evaluation", h.saveEvaluation)
		r.Put("/api/pos/{number}/amendment", h.saveAmendment)
		r.Get("/api/pos/{number}/reports/{kind}", h.report)
	})

	return r
}

// health pings the database.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	if err := h.svc.Health(r.Context()); err != nil {
		loggerFromContext(r.Context()).WithError(err).Warn("health check failed")
		writeJSONStatus(w, http.StatusServiceUnavailable, response{Status: "unavailable"})
		return
	}
	writeJSON(w, response{Status: "ok"})
}

// userFrom returns the acting user named by X-User.
func userFrom(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get("X-User")); u != "" {
		return u
	}
	return app.DefaultUser
}

func poNumber(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "number"))
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}

// queryInt parses an optional integer parameter. An absent value is zero.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, r, name+" must be an integer", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func queryBool(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		writeError(w, r, name+" must be true or false", "BAD_REQUEST", http.StatusBadRequest)
		return false, false
	}
	return b, true
}

// queryTime accepts RFC 3339 timestamps or plain dates.
func queryTime(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, true
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	writeError(w, r, name+" must be a date (YYYY-MM-DD) or RFC 3339 time", "BAD_REQUEST", http.StatusBadRequest)
	return time.Time{}, false
}
