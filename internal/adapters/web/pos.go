package web

import (
	"net/http"

	"po-ledger/internal/app"
	"po-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// listPOs handles GET /api/pos.
func (h *Handler) listPOs(w http.ResponseWriter, r *http.Request) {
	pos, err := h.svc.ListPOs(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, pos)
}

// listPOsWithActivity handles GET /api/pos/activity.
func (h *Handler) listPOsWithActivity(w http.ResponseWriter, r *http.Request) {
	pos, err := h.svc.ListPOsWithActivity(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, pos)
}

// getPO handles GET /api/pos/{number}?recompute=true.
func (h *Handler) getPO(w http.ResponseWriter, r *http.Request) {
	recompute, ok := queryBool(w, r, "recompute")
	if !ok {
		return
	}
	po, err := h.svc.GetPO(r.Context(), poNumber(r), recompute)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, po)
}

// listReceptions handles GET /api/pos/{number}/receptions.
func (h *Handler) listReceptions(w http.ResponseWriter, r *http.Request) {
	rs, err := h.svc.ListReceptions(r.Context(), poNumber(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, rs)
}

// listInitialValues handles GET /api/pos/{number}/initial-values.
func (h *Handler) listInitialValues(w http.ResponseWriter, r *http.Request) {
	vs, err := h.svc.ListInitialValues(r.Context(), poNumber(r))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, vs)
}

// setRetention handles PUT /api/pos/{number}/retention.
// Body: { rate, cause? }
func (h *Handler) setRetention(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rate  decimal.Decimal `json:"rate"`
		Cause string          `json:"cause"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	po, err := h.svc.SetRetention(r.Context(), app.RetentionRequest{
		PONumber: poNumber(r),
		Rate:     body.Rate,
		Cause:    body.Cause,
		User:     userFrom(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, po)
}

// applyDelivery handles POST /api/pos/{number}/deliveries.
// Body: { business_id, delta, declared_ordered, file_id? }
func (h *Handler) applyDelivery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BusinessID      string          `json:"business_id"`
		Delta           decimal.Decimal `json:"delta"`
		DeclaredOrdered decimal.Decimal `json:"declared_ordered"`
		FileID          *int64          `json:"file_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := h.svc.ApplyDelivery(r.Context(), app.DeliveryRequest{
		PONumber:        poNumber(r),
		BusinessID:      body.BusinessID,
		Delta:           body.Delta,
		DeclaredOrdered: body.DeclaredOrdered,
		FileID:          body.FileID,
		User:            userFrom(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// bulkApply handles POST /api/pos/{number}/deliveries/bulk.
// Body: { lines: [{business_id, delta, declared_ordered}] }
func (h *Handler) bulkApply(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Lines []core.DeliveryLine `json:"lines"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := h.svc.BulkApply(r.Context(), app.BulkDeliveryRequest{
		PONumber: poNumber(r),
		Lines:    body.Lines,
		User:     userFrom(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// resetDeliveries handles POST /api/pos/{number}/deliveries/reset.
// Body: { file_id }
func (h *Handler) resetDeliveries(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FileID int64 `json:"file_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := h.svc.ResetDeliveries(r.Context(), app.ResetRequest{
		PONumber: poNumber(r),
		FileID:   body.FileID,
		User:     userFrom(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// applyTargetRate handles POST /api/pos/{number}/target-rate.
// Body: { target_rate, business_ids? }
func (h *Handler) applyTargetRate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TargetRate  decimal.Decimal `json:"target_rate"`
		BusinessIDs []string        `json:"business_ids"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	res, err := h.svc.ApplyTargetRate(r.Context(), app.TargetRateRequest{
		PONumber:    poNumber(r),
		TargetRate:  body.TargetRate,
		BusinessIDs: body.BusinessIDs,
		User:        userFrom(r),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, res)
}

// listActivity handles GET /api/activity?po=&user=&from=&to=&page=&page_size=.
func (h *Handler) listActivity(w http.ResponseWriter, r *http.Request) {
	q := app.ActivityQuery{
		PONumber: r.URL.Query().Get("po"),
		User:     r.URL.Query().Get("user"),
	}
	var ok bool
	if q.From, ok = queryTime(w, r, "from"); !ok {
		return
	}
	if q.To, ok = queryTime(w, r, "to"); !ok {
		return
	}
	if q.Page, ok = queryInt(w, r, "page"); !ok {
		return
	}
	if q.PageSize, ok = queryInt(w, r, "page_size"); !ok {
		return
	}
	page, err := h.svc.ListActivity(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, page)
}
