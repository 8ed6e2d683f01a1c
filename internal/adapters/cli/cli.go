package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"po-ledger/internal/app"
	"po-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// ErrUsage is returned for unknown commands and malformed arguments.
var ErrUsage = errors.New("usage")

const usage = `Usage: app [-user NAME] <command> [args]

Commands:
  ingest <file>                                 import a spreadsheet synchronously
  pos [-activity]                               list purchase orders
  po [-recompute] <number>                      show one purchase order
  receptions <number>                           list the receptions of a PO
  deliver [-file ID] <po> <business_id> <delta> <declared_ordered>
  reset <po> <file_id>                          remove the receptions a file produced
  target-rate <po> <rate> [business_id...]      top lines up to a progress rate
  retention <po> <rate> [cause]                 set the live retention rate
  snapshot <po>                                 freeze an MSRN report
  snapshots <po>                                list MSRN reports of a PO
  report [-draft] <kind> <ref>                  build a report context
  activity [-po P] [-user U] [-from D] [-to D] [-page N] [-page-size N]
  verify [-refresh]                             check the ledger invariants`

// Run executes a one-shot command. args is os.Args[1:].
func Run(ctx context.Context, svc app.ApplicationService, args []string, out io.Writer) error {
	global := flag.NewFlagSet("app", flag.ContinueOnError)
	global.SetOutput(io.Discard)
	user := global.String("user", app.DefaultUser, "acting user")
	if err := global.Parse(args); err != nil {
		return usageErr(err.Error())
	}
	args = global.Args()
	if len(args) == 0 {
		return usageErr("no command")
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "ingest":
		if len(rest) != 1 {
			return usageErr("ingest <file>")
		}
		f, err := os.Open(rest[0])
		if err != nil {
			return err
		}
		defer f.Close()
		res, err := svc.IngestFile(ctx, app.UploadRequest{Filename: filepath.Base(rest[0]), User: *user}, f)
		if err != nil {
			return err
		}
		printIngest(out, res)
		return nil

	case "pos":
		fs := newFlagSet(cmd)
		activity := fs.Bool("activity", false, "only POs with journal events")
		if err := fs.Parse(rest); err != nil {
			return usageErr(err.Error())
		}
		list := svc.ListPOs
		if *activity {
			list = svc.ListPOsWithActivity
		}
		pos, err := list(ctx)
		if err != nil {
			return err
		}
		for _, p := range pos {
			fmt.Fprintln(out, p)
		}
		return nil

	case "po":
		fs := newFlagSet(cmd)
		recompute := fs.Bool("recompute", false, "recompute totals from receptions")
		if err := fs.Parse(rest); err != nil {
			return usageErr(err.Error())
		}
		if fs.NArg() != 1 {
			return usageErr("po [-recompute] <number>")
		}
		po, err := svc.GetPO(ctx, fs.Arg(0), *recompute)
		if err != nil {
			return err
		}
		printPO(out, po)
		return nil

	case "receptions":
		if len(rest) != 1 {
			return usageErr("receptions <number>")
		}
		rs, err := svc.ListReceptions(ctx, rest[0])
		if err != nil {
			return err
		}
		printReceptions(out, rs)
		return nil

	case "deliver":
		fs := newFlagSet(cmd)
		fileID := fs.Int64("file", 0, "source file id")
		if err := fs.Parse(rest); err != nil {
			return usageErr(err.Error())
		}
		if fs.NArg() != 4 {
			return usageErr("deliver [-file ID] <po> <business_id> <delta> <declared_ordered>")
		}
		nums, err := decimals(fs.Arg(2), fs.Arg(3))
		if err != nil {
			return err
		}
		req := app.DeliveryRequest{
			PONumber:        fs.Arg(0),
			BusinessID:      fs.Arg(1),
			Delta:           nums[0],
			DeclaredOrdered: nums[1],
			User:            *user,
		}
		if *fileID != 0 {
			req.FileID = fileID
		}
		res, err := svc.ApplyDelivery(ctx, req)
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "reset":
		if len(rest) != 2 {
			return usageErr("reset <po> <file_id>")
		}
		id, err := strconv.ParseInt(rest[1], 10, 64)
		if err != nil {
			return usageErr("file_id must be an integer")
		}
		res, err := svc.ResetDeliveries(ctx, app.ResetRequest{PONumber: rest[0], FileID: id, User: *user})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed %d reception(s) of file %d from %s.\n", res.Deleted, res.FileID, res.PONumber)
		return nil

	case "target-rate":
		if len(rest) < 2 {
			return usageErr("target-rate <po> <rate> [business_id...]")
		}
		nums, err := decimals(rest[1])
		if err != nil {
			return err
		}
		res, err := svc.ApplyTargetRate(ctx, app.TargetRateRequest{
			PONumber: rest[0], TargetRate: nums[0], BusinessIDs: rest[2:], User: *user,
		})
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "retention":
		if len(rest) < 2 || len(rest) > 3 {
			return usageErr("retention <po> <rate> [cause]")
		}
		nums, err := decimals(rest[1])
		if err != nil {
			return err
		}
		req := app.RetentionRequest{PONumber: rest[0], Rate: nums[0], User: *user}
		if len(rest) == 3 {
			req.Cause = rest[2]
		}
		po, err := svc.SetRetention(ctx, req)
		if err != nil {
			return err
		}
		printPO(out, po)
		return nil

	case "snapshot":
		if len(rest) != 1 {
			return usageErr("snapshot <po>")
		}
		snap, err := svc.CreateSnapshot(ctx, rest[0], *user)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Created %s for %s (payable %s).\n", snap.ReportNumber, snap.PONumber, snap.PayableAmount.StringFixed(2))
		return nil

	case "snapshots":
		if len(rest) != 1 {
			return usageErr("snapshots <po>")
		}
		snaps, err := svc.ListSnapshots(ctx, rest[0])
		if err != nil {
			return err
		}
		for _, s := range snaps {
			fmt.Fprintf(out, "%-12s %s  %s  retention %s%%\n", s.ReportNumber, s.CreatedAt.Format("2006-01-02"), s.CreatedBy, s.RetentionRate.String())
		}
		return nil

	case "report":
		fs := newFlagSet(cmd)
		draft := fs.Bool("draft", false, "draft a missing penalty observation")
		if err := fs.Parse(rest); err != nil {
			return usageErr(err.Error())
		}
		if fs.NArg() != 2 {
			return usageErr("report [-draft] <kind> <ref>")
		}
		res, err := svc.Report(ctx, app.ReportRequest{Kind: fs.Arg(0), Ref: fs.Arg(1), DraftObservation: *draft})
		if err != nil {
			return err
		}
		return printJSON(out, res)

	case "activity":
		fs := newFlagSet(cmd)
		q := app.ActivityQuery{}
		fs.StringVar(&q.PONumber, "po", "", "purchase order")
		fs.StringVar(&q.User, "user", "", "user substring")
		from := fs.String("from", "", "first day (YYYY-MM-DD)")
		to := fs.String("to", "", "last day (YYYY-MM-DD)")
		fs.IntVar(&q.Page, "page", 1, "page number")
		fs.IntVar(&q.PageSize, "page-size", core.DefaultActivityPageSize, "events per page")
		if err := fs.Parse(rest); err != nil {
			return usageErr(err.Error())
		}
		var err error
		if q.From, err = parseDay(*from); err != nil {
			return err
		}
		if q.To, err = parseDay(*to); err != nil {
			return err
		}
		page, err := svc.ListActivity(ctx, q)
		if err != nil {
			return err
		}
		printActivity(out, page)
		return nil

	case "verify":
		fs := newFlagSet(cmd)
		refresh := fs.Bool("refresh", false, "rewrite stale PO caches")
		if err := fs.Parse(rest); err != nil {
			return usageErr(err.Error())
		}
		rep, err := svc.Verify(ctx, *refresh)
		if err != nil {
			return err
		}
		printVerify(out, rep)
		if !rep.OK() {
			return fmt.Errorf("%w: %d violation(s)", core.ErrInvariantViolation, len(rep.Violations))
		}
		return nil
	}
	return usageErr("unknown command " + cmd)
}

// Usage returns the command summary.
func Usage() string { return usage }

func usageErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrUsage, msg)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func decimals(vals ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		d, err := core.ParseDecimal(v)
		if err != nil {
			return nil, usageErr(fmt.Sprintf("%q is not a number", v))
		}
		out[i] = d
	}
	return out, nil
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, usageErr(fmt.Sprintf("%q is not a YYYY-MM-DD date", s))
	}
	return t, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printIngest(out io.Writer, r *core.IngestResult) {
	fmt.Fprintf(out, "File %d: %d row(s) in %d chunk(s), %d skipped\n", r.FileID, r.Rows, r.Chunks, r.SkippedCount)
	fmt.Fprintf(out, "  lines      : %d created, %d reconciled, %d unkeyed\n", r.LinesCreated, r.LinesReconciled, r.Unkeyed)
	fmt.Fprintf(out, "  receptions : %d created, %d updated\n", r.ReceptionsCreated, r.ReceptionsUpdated)
	if len(r.PurchaseOrders) > 0 {
		fmt.Fprintf(out, "  POs        : %s\n", strings.Join(r.PurchaseOrders, ", "))
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(out, "  skipped row %d: %s\n", s.RowNumber, s.Reason)
	}
}

func printPO(out io.Writer, po *core.PurchaseOrder) {
	fmt.Fprintln(out, strings.Repeat("=", 48))
	fmt.Fprintf(out, "  PURCHASE ORDER %s\n", po.Number)
	fmt.Fprintln(out, strings.Repeat("=", 48))
	fmt.Fprintf(out, "  %-18s %27s\n", "Total amount", po.TotalAmount.StringFixed(2))
	fmt.Fprintf(out, "  %-18s %27s\n", "Received amount", po.ReceivedAmount.StringFixed(2))
	fmt.Fprintf(out, "  %-18s %26s%%\n", "Progress", po.ProgressRate.StringFixed(2))
	fmt.Fprintf(out, "  %-18s %26s%%\n", "Retention", po.RetentionRate.StringFixed(2))
	if po.RetentionCause != nil {
		fmt.Fprintf(out, "  %-18s %27s\n", "Retention cause", *po.RetentionCause)
	}
	fmt.Fprintln(out, strings.Repeat("=", 48))
}

func printReceptions(out io.Writer, rs []core.Reception) {
	fmt.Fprintf(out, "%-36s %12s %12s %12s %14s\n", "BUSINESS ID", "ORDERED", "RECEIVED", "PAYABLE", "AMOUNT")
	fmt.Fprintln(out, strings.Repeat("-", 90))
	for _, r := range rs {
		fmt.Fprintf(out, "%-36s %12s %12s %12s %14s\n", r.BusinessID,
			r.OrderedQuantity.String(), r.ReceivedQuantity.String(), r.QuantityPayable.String(), r.AmountDelivered.StringFixed(2))
	}
}

func printActivity(out io.Writer, p *core.ActivityPage) {
	fmt.Fprintf(out, "Page %d (%d per page), %d event(s)\n", p.Page, p.PageSize, p.Total)
	for _, e := range p.Entries {
		fmt.Fprintf(out, "%s  %-10s #%-3d %-30s %10s  %s\n",
			e.ActionDate.Format("2006-01-02 15:04"), e.PONumber, e.ReceptionNumber, e.BusinessID, e.QuantityDelivered.String(), e.User)
	}
}

func printVerify(out io.Writer, r *core.VerifyReport) {
	fmt.Fprintf(out, "Checked %d PO(s), %d reception(s), %d event(s); refreshed %d\n", r.PurchaseOrders, r.Receptions, r.Events, r.Refreshed)
	for _, v := range r.Violations {
		fmt.Fprintln(out, "  "+v.String())
	}
}
