package core_test

import (
	"testing"

	"po-ledger/internal/core"
)

func journalEvent(id int64, file int64, bid, delta string) core.ActivityLog {
	f := file
	return core.ActivityLog{ID: id, PONumber: "PO-1", FileID: &f, BusinessID: bid, QuantityDelivered: dec(delta)}
}

func TestCheckReceptions(t *testing.T) {
	po, r := s3State(t)
	if v := core.CheckReceptions(po, []core.Reception{r}); len(v) != 0 {
		t.Fatalf("consistent reception reported: %v", v)
	}

	stale := r
	stale.AmountPayable = dec("350.00")
	over := r
	over.BusinessID = "ORDER:PO-1|LINE:11"
	over.QuantityDelivered = dec("120")
	v := core.CheckReceptions(po, []core.Reception{stale, over})
	if len(v) != 2 {
		t.Fatalf("violations = %v, want 2", v)
	}
	for _, x := range v {
		if x.Check != core.CheckKindReception || x.PONumber != "PO-1" {
			t.Errorf("violation = %+v", x)
		}
	}
}

func TestCheckPOCache(t *testing.T) {
	po, r := s3State(t)
	if v := core.CheckPOCache(po, []core.Reception{r}); len(v) != 0 {
		t.Fatalf("fresh cache reported: %v", v)
	}
	po.ReceivedAmount = dec("200.00")
	if v := core.CheckPOCache(po, []core.Reception{r}); len(v) != 1 || v[0].Check != core.CheckKindPOCache {
		t.Fatalf("stale cache violations = %v", v)
	}
}

func TestJournalSums_ResetVoidsEarlierEventsOfTheFile(t *testing.T) {
	reset := journalEvent(4, 7, core.ResetBusinessID, "0")
	events := []core.ActivityLog{
		journalEvent(1, 7, "L1", "40"),
		journalEvent(2, 8, "L2", "10"),
		journalEvent(3, 7, "L1", "5"),
		reset,
		journalEvent(5, 7, "L1", "12"),
		journalEvent(6, 8, "L2", "-3"),
	}
	sums := core.JournalSums(events)
	if got := sums["L1"]; !got.Equal(dec("12")) {
		t.Errorf("L1 = %s, want only the post-reset delta 12", got)
	}
	if got := sums["L2"]; !got.Equal(dec("7")) {
		t.Errorf("L2 = %s, want 7", got)
	}
	if _, ok := sums[core.ResetBusinessID]; ok {
		t.Errorf("reset marker summed as a line")
	}
}

func TestCheckJournal(t *testing.T) {
	_, r := s3State(t)
	complete := []core.ActivityLog{journalEvent(1, 7, r.BusinessID, "40"), journalEvent(2, 7, r.BusinessID, "30")}
	if v := core.CheckJournal("PO-1", []core.Reception{r}, complete); len(v) != 0 {
		t.Fatalf("complete journal reported: %v", v)
	}

	missing := complete[:1]
	v := core.CheckJournal("PO-1", []core.Reception{r}, missing)
	if len(v) != 1 || v[0].BusinessID != r.BusinessID || v[0].Check != core.CheckKindJournal {
		t.Fatalf("violations = %v", v)
	}

	undelivered := core.Reception{BusinessID: "ORDER:PO-1|LINE:99", OrderedQuantity: dec("5")}
	if v := core.CheckJournal("PO-1", []core.Reception{undelivered}, nil); len(v) != 0 {
		t.Errorf("undelivered line reported: %v", v)
	}
}

func TestCheckTimeline(t *testing.T) {
	if v := core.CheckTimeline(core.TimelineDelay{PONumber: "PO-1", RetentionRateTimeline: dec("10")}); len(v) != 0 {
		t.Errorf("cap itself reported: %v", v)
	}
	if v := core.CheckTimeline(core.TimelineDelay{PONumber: "PO-1", RetentionRateTimeline: dec("10.5")}); len(v) != 1 {
		t.Errorf("over cap violations = %v", v)
	}
}

func TestVerifyReport_OK(t *testing.T) {
	if !(core.VerifyReport{}).OK() {
		t.Errorf("empty report not OK")
	}
	if (core.VerifyReport{Violations: []core.Violation{{Check: core.CheckKindJournal}}}).OK() {
		t.Errorf("report with violation is OK")
	}
}
