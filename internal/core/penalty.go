package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// PenaltyRatePercent is charged per vendor-attributable day of delay.
	PenaltyRatePercent = decimal.RequireFromString("0.30")
	penaltyCapFactor   = decimal.RequireFromString("0.10")
	timelineDailyRate  = decimal.RequireFromString("0.003")
)

// Day and month may be written without zero padding.
var looseDateLayouts = []string{
	"2006-1-2",
	"2006-1-2 15:04",
	"2006-1-2 15:04:05",
	"2/1/2006",
	"2/1/2006 15:04",
	"2/1/2006 15:04:05",
}

// ParseLooseDate accepts %Y-%m-%d and %d/%m/%Y, each with an optional
// %H:%M or %H:%M:%S suffix. A trailing ISO "T" time is also tolerated.
func ParseLooseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, invalidf("empty date")
	}
	for _, layout := range looseDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, invalidf("unrecognized date %q", s)
}

// TotalPenaltyDays is max(0, actual − pip) in whole days, or 0 when either
// date does not parse.
func TotalPenaltyDays(pipEnd, actualEnd string) int {
	pip, err := ParseLooseDate(pipEnd)
	if err != nil {
		return 0
	}
	actual, err := ParseLooseDate(actualEnd)
	if err != nil {
		return 0
	}
	days := int(actual.Sub(pip).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// QuotiteFactor is max(0, (100 − quotité réalisée)/100).
func QuotiteFactor(quotiteRealisee decimal.Decimal) decimal.Decimal {
	return maxDecimal(zero, hundred.Sub(quotiteRealisee).Div(hundred))
}

// PenaltyBreakdown is the output of the penalty calculation.
type PenaltyBreakdown struct {
	POAmount            decimal.Decimal `json:"po_amount"`
	DelayVendor         int             `json:"delay_vendor"`
	PenaltyRate         decimal.Decimal `json:"penalty_rate"`
	QuotiteRealisee     decimal.Decimal `json:"quotite_realisee"`
	QuotiteNonRealisee  decimal.Decimal `json:"quotite_non_realisee"`
	QuotiteFactor       decimal.Decimal `json:"quotite_factor"`
	PenaltiesCalculated decimal.Decimal `json:"penalties_calculated"`
	PenaltyCap          decimal.Decimal `json:"penalty_cap"`
	PenaltiesDue        decimal.Decimal `json:"penalties_due"`
}

// ComputePenalty applies rate × vendor days × quotité factor and caps the
// result at 10 % of the PO amount.
func ComputePenalty(poAmount decimal.Decimal, delayVendor int, quotiteRealisee decimal.Decimal) PenaltyBreakdown {
	if delayVendor < 0 {
		delayVendor = 0
	}
	factor := QuotiteFactor(quotiteRealisee)
	calculated := Round2(poAmount.
		Mul(PenaltyRatePercent.Div(hundred)).
		Mul(decimal.NewFromInt(int64(delayVendor))).
		Mul(factor))
	limit := Round2(poAmount.Mul(penaltyCapFactor))
	return PenaltyBreakdown{
		POAmount:            poAmount,
		DelayVendor:         delayVendor,
		PenaltyRate:         PenaltyRatePercent,
		QuotiteRealisee:     quotiteRealisee,
		QuotiteNonRealisee:  maxDecimal(zero, hundred.Sub(quotiteRealisee)),
		QuotiteFactor:       factor,
		PenaltiesCalculated: calculated,
		PenaltyCap:          limit,
		PenaltiesDue:        minDecimal(calculated, limit),
	}
}

// TimelineRetention derives the retention implied by vendor delay days:
// 0.3 % of the PO amount per day, capped at 10 %.
func TimelineRetention(poAmount decimal.Decimal, delayVendor int) (amount, rate decimal.Decimal) {
	if poAmount.IsZero() || delayVendor <= 0 {
		return zero, zero
	}
	amount = poAmount.Mul(timelineDailyRate).Mul(decimal.NewFromInt(int64(delayVendor)))
	if amount.Div(poAmount).GreaterThan(penaltyCapFactor) {
		return Round2(poAmount.Mul(penaltyCapFactor)), MaxRetentionRate
	}
	return Round2(amount), Round2(amount.Div(poAmount).Mul(hundred))
}

// TimelineDelay splits a PO's total delay across the three responsibility
// buckets.
type TimelineDelay struct {
	POID                    int64           `json:"po_id"`
	PONumber                string          `json:"po_number"`
	TotalDelay              int             `json:"total_delay"`
	DelayMTN                int             `json:"delay_mtn"`
	DelayVendor             int             `json:"delay_vendor"`
	DelayForceMajeure       int             `json:"delay_force_majeure"`
	CommentMTN              string          `json:"comment_mtn"`
	CommentVendor           string          `json:"comment_vendor"`
	CommentForceMajeure     string          `json:"comment_force_majeure"`
	QuotiteRealisee         decimal.Decimal `json:"quotite_realisee"`
	Observation             string          `json:"observation"`
	RetentionAmountTimeline decimal.Decimal `json:"retention_amount_timeline"`
	RetentionRateTimeline   decimal.Decimal `json:"retention_rate_timeline"`
	UpdatedBy               string          `json:"updated_by"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// Validate checks the bucket and quotité ranges.
func (t TimelineDelay) Validate() error {
	if t.TotalDelay < 0 || t.DelayMTN < 0 || t.DelayVendor < 0 || t.DelayForceMajeure < 0 {
		return invalidf("delay days must not be negative")
	}
	if t.QuotiteRealisee.IsNegative() || t.QuotiteRealisee.GreaterThan(hundred) {
		return invalidf("quotité réalisée %s is outside [0, 100]", t.QuotiteRealisee)
	}
	return nil
}

// Derive fills the timeline retention fields from the PO amount.
func (t *TimelineDelay) Derive(poAmount decimal.Decimal) {
	t.RetentionAmountTimeline, t.RetentionRateTimeline = TimelineRetention(poAmount, t.DelayVendor)
}

// VendorEvaluation scores a supplier on five 0–10 criteria.
type VendorEvaluation struct {
	POID           int64     `json:"po_id"`
	Quality        int       `json:"quality"`
	Timeliness     int       `json:"timeliness"`
	Responsiveness int       `json:"responsiveness"`
	Compliance     int       `json:"compliance"`
	Documentation  int       `json:"documentation"`
	Comment        string    `json:"comment"`
	UpdatedBy      string    `json:"updated_by"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (e VendorEvaluation) scores() []int {
	return []int{e.Quality, e.Timeliness, e.Responsiveness, e.Compliance, e.Documentation}
}

// Validate checks every criterion is within [0, 10].
func (e VendorEvaluation) Validate() error {
	names := []string{"quality", "timeliness", "responsiveness", "compliance", "documentation"}
	for i, s := range e.scores() {
		if s < 0 || s > 10 {
			return invalidf("%s score %d is outside [0, 10]", names[i], s)
		}
	}
	return nil
}

// CompositeScore is the sum of the criteria, out of 50.
func (e VendorEvaluation) CompositeScore() int {
	sum := 0
	for _, s := range e.scores() {
		sum += s
	}
	return sum
}

// FinalRating is the mean of the criteria, rounded to 2 dp.
func (e VendorEvaluation) FinalRating() decimal.Decimal {
	return Round2(decimal.NewFromInt(int64(e.CompositeScore())).Div(decimal.NewFromInt(int64(len(e.scores())))))
}

// Criteria returns the scores keyed by criterion name.
func (e VendorEvaluation) Criteria() map[string]int {
	return map[string]int{
		"quality":        e.Quality,
		"timeliness":     e.Timeliness,
		"responsiveness": e.Responsiveness,
		"compliance":     e.Compliance,
		"documentation":  e.Documentation,
	}
}

type PenaltyStatus string

const (
	PenaltyStatusNone       PenaltyStatus = ""
	PenaltyStatusAnnulee    PenaltyStatus = "annulee"
	PenaltyStatusReduite    PenaltyStatus = "reduite"
	PenaltyStatusReconduite PenaltyStatus = "reconduite"
)

// PenaltyAmendment records the supplier's plea and the PM's proposal.
type PenaltyAmendment struct {
	POID          int64           `json:"po_id"`
	SupplierPlea  string          `json:"supplier_plea"`
	PMProposal    string          `json:"pm_proposal"`
	PenaltyStatus PenaltyStatus   `json:"penalty_status"`
	ReducedAmount decimal.Decimal `json:"reduced_amount"`
	UpdatedBy     string          `json:"updated_by"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Validate checks the status is one of the known values.
func (a PenaltyAmendment) Validate() error {
	switch a.PenaltyStatus {
	case PenaltyStatusNone, PenaltyStatusAnnulee, PenaltyStatusReduite, PenaltyStatusReconduite:
	default:
		return invalidf("unknown penalty status %q", a.PenaltyStatus)
	}
	if a.ReducedAmount.IsNegative() {
		return invalidf("reduced amount %s is negative", a.ReducedAmount)
	}
	return nil
}

// CheckReduction rejects a reduced amount above penaltiesDue. It applies
// when the amendment is saved.
func (a PenaltyAmendment) CheckReduction(penaltiesDue decimal.Decimal) error {
	if a.PenaltyStatus == PenaltyStatusReduite && a.ReducedAmount.GreaterThan(penaltiesDue) {
		return invariantf("reduced penalty %s exceeds penalties due %s", a.ReducedAmount, penaltiesDue)
	}
	return nil
}

// Stale reports whether a stored reduction now exceeds penaltiesDue, which
// happens when the timeline or PO amount changed after the amendment.
func (a PenaltyAmendment) Stale(penaltiesDue decimal.Decimal) bool {
	return a.CheckReduction(penaltiesDue) != nil
}

// NewPenaltyDue resolves the amended penalty: cancelled → 0, reduced → the
// reduced amount capped at penaltiesDue, otherwise penaltiesDue.
func (a PenaltyAmendment) NewPenaltyDue(penaltiesDue decimal.Decimal) decimal.Decimal {
	switch a.PenaltyStatus {
	case PenaltyStatusAnnulee:
		return zero
	case PenaltyStatusReduite:
		return Round2(minDecimal(a.ReducedAmount, penaltiesDue))
	default:
		return penaltiesDue
	}
}
