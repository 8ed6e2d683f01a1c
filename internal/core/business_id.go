package core

import (
	"math"
	"strconv"
	"strings"
)

// Business ID segment labels, in canonical order.
const (
	segOrder    = "ORDER"
	segLine     = "LINE"
	segItem     = "ITEM"
	segSchedule = "SCHEDULE"
)

// A header may feed several segments. ORDER skips headers such as
// "Ordered Quantity" that name a property of the order, not its number.
var businessIDSegments = []struct {
	label   string
	needle  string
	exclude []string
}{
	{segOrder, "order", []string{"description", "quantity", "date", "amount", "type"}},
	{segLine, "line", []string{"description"}},
	{segItem, "item", []string{"description"}},
	{segSchedule, "schedule", nil},
}

// NumericNormalize renders integral numbers without a fractional part
// ("43.0" → "43") and returns every other value trimmed but otherwise as-is.
func NumericNormalize(v string) string {
	v = strings.TrimSpace(v)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return v
	}
	if f != math.Trunc(f) || math.Abs(f) >= 1e15 {
		return v
	}
	return strconv.FormatInt(int64(f), 10)
}

// DeriveBusinessID builds ORDER:…|LINE:…|ITEM:…|SCHEDULE:… from a record,
// omitting segments that are absent. It returns "" when no segment is found.
func DeriveBusinessID(rec Record) string {
	values := make(map[string]string, len(businessIDSegments))
	for _, f := range rec {
		h := NormalizeHeader(f.Header)
		v := strings.TrimSpace(f.Value)
		if v == "" {
			continue
		}
		for _, seg := range businessIDSegments {
			if _, done := values[seg.label]; done {
				continue
			}
			if strings.Contains(h, seg.needle) && !containsAny(h, seg.exclude) {
				values[seg.label] = v
			}
		}
	}
	if _, ok := values[segOrder]; !ok {
		if v, ok := FieldOrderNumber.Match(rec); ok {
			values[segOrder] = v
		}
	}

	parts := make([]string, 0, len(businessIDSegments))
	for _, seg := range businessIDSegments {
		if v, ok := values[seg.label]; ok {
			parts = append(parts, seg.label+":"+NumericNormalize(v))
		}
	}
	return strings.Join(parts, "|")
}

// CanonicalBusinessID re-normalizes a business ID typed by a caller so it
// compares byte-equal with derived ones ("order:PO-1|line:10.0" →
// "ORDER:PO-1|LINE:10"). Parts without a label are kept trimmed.
func CanonicalBusinessID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	parts := strings.Split(id, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		label, value, ok := strings.Cut(p, ":")
		if !ok {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
			continue
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		out = append(out, strings.ToUpper(strings.TrimSpace(label))+":"+NumericNormalize(value))
	}
	return strings.Join(out, "|")
}

// BusinessIDSegment returns the value of one segment (ORDER, LINE, ITEM or
// SCHEDULE) of a canonical business ID.
func BusinessIDSegment(id, label string) string {
	for _, p := range strings.Split(id, "|") {
		if l, v, ok := strings.Cut(p, ":"); ok && l == label {
			return v
		}
	}
	return ""
}
