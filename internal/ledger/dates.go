package ledger

import "regexp"

// Transfer dates arrive in whatever shape the historical register held.
// Two shapes are recognised: canonical YYYY-MM-DD, and day-month-year with
// "-" or "/" separators. Anything else is kept verbatim: the register
// prefers accepting possibly-malformed data over rejecting the write.
var (
	canonicalDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	dayMonthYearPattern  = regexp.MustCompile(`^\s*(\d{1,2})\s*[-/]\s*(\d{1,2})\s*[-/]\s*(\d{4})\s*$`)
)

// NormalizeTransferDate converts a raw transfer date into canonical
// YYYY-MM-DD form where possible. It is total: nil or empty input yields
// nil, unrecognised input is returned unchanged. No range checking is
// performed on already-canonical values.
func NormalizeTransferDate(raw *string) *string {
	if raw == nil || *raw == "" {
		return nil
	}
	value := *raw
	if canonicalDatePattern.MatchString(value) {
		return raw
	}
	m := dayMonthYearPattern.FindStringSubmatch(value)
	if m == nil {
		return raw
	}
	canonical := m[3] + "-" + pad2(m[2]) + "-" + pad2(m[1])
	return &canonical
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}
