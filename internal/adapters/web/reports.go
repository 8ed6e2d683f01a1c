package web

import (
	"net/http"

	"po-ledger/internal/app"
	"po-ledger/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func reportNumber(r *http.Request) string {
	return chi.URLParam(r, "reportNumber")
}

// createSnapshot handles POST /api/pos/{number}/snapshots.
func (h *Handler) createSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.CreateSnapshot(r.Context(), poNumber(r), userFrom(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, snap)
}

// listSnapshots handles GET /api/pos/{number}/snapshots.
func (h *Handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.svc.ListSnapshots(r.Context(), poNumber(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, snaps)
}

// getSnapshot handles GET /api/snapshots/{reportNumber}.
func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.GetSnapshot(r.Context(), reportNumber(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

// updateSnapshotRetention handles PUT /api/snapshots/{reportNumber}/retention.
// Body: { rate, cause? }
func (h *Handler) updateSnapshotRetention(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rate  decimal.Decimal `json:"rate"`
		Cause string          `json:"cause"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	snap, err := h.svc.UpdateSnapshotRetention(r.Context(), app.SnapshotRetentionRequest{
		ReportNumber: reportNumber(r),
		Rate:         body.Rate,
		Cause:        body.Cause,
		User:         userFrom(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, snap)
}

// msrnContext handles GET /api/snapshots/{reportNumber}/context.
func (h *Handler) msrnContext(w http.ResponseWriter, r *http.Request) {
	h.writeReport(w, r, app.ReportRequest{Kind: string(core.ReportMSRN), Ref: reportNumber(r)})
}

// report handles GET /api/pos/{number}/reports/{kind}?draft_observation=true.
func (h *Handler) report(w http.ResponseWriter, r *http.Request) {
	draft, ok := queryBool(w, r, "draft_observation")
	if !ok {
		return
	}
	kind := chi.URLParam(r, "kind")
	if k, err := core.ParseReportKind(kind); err == nil && k == core.ReportMSRN {
		writeError(w, r, "msrn reports are read from /api/snapshots/{reportNumber}/context", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	h.writeReport(w, r, app.ReportRequest{Kind: kind, Ref: poNumber(r), DraftObservation: draft})
}

func (h *Handler) writeReport(w http.ResponseWriter, r *http.Request, req app.ReportRequest) {
	res, err := h.svc.Report(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// getTimeline handles GET /api/pos/{number}/timeline.
func (h *Handler) getTimeline(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTimeline(r.Context(), poNumber(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, t)
}

// saveTimeline handles PUT /api/pos/{number}/timeline.
func (h *Handler) saveTimeline(w http.ResponseWriter, r *http.Request) {
	var req app.TimelineRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.PONumber, req.User = poNumber(r), userFrom(r)
	t, err := h.svc.SaveTimeline(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, t)
}

// saveEvaluation handles PUT /api/pos/{number}/evaluation.
func (h *Handler) saveEvaluation(w http.ResponseWriter, r *http.Request) {
	var req app.EvaluationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.PONumber, req.User = poNumber(r), userFrom(r)
	e, err := h.svc.SaveEvaluation(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, e)
}

// saveAmendment handles PUT /api/pos/{number}/amendment.
func (h *Handler) saveAmendment(w http.ResponseWriter, r *http.Request) {
	var req app.AmendmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.PONumber, req.User = poNumber(r), userFrom(r)
	a, err := h.svc.SaveAmendment(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, a)
}
