package usage

import (
	"fmt"
	"strconv"
	"strings"
)

// HumanTokens abbreviates a token count: 1532 -> "1.5K", 2_400_000 -> "2.4M".
func HumanTokens(n int) string {
	switch {
	case n < 1_000:
		return strconv.Itoa(n)
	case n < 999_950:
		return scaled(float64(n)/1_000) + "K"
	default:
		return scaled(float64(n)/1_000_000) + "M"
	}
}

func scaled(v float64) string {
	return strings.TrimSuffix(strconv.FormatFloat(v, 'f', 1, 64), ".0")
}

// GroupedInt writes n with thousands separators.
func GroupedInt(n int) string {
	digits := strconv.Itoa(n)
	sign := ""
	if n < 0 {
		sign, digits = "-", digits[1:]
	}

	var b strings.Builder
	b.WriteString(sign)
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return b.String()
}

// Report renders the /usage summary: session and today totals, then one
// line per call kind for the session.
func (s *Store) Report() string {
	session := s.Query(Filter{SessionID: s.SessionID()})
	today := s.Query(Filter{DayKey: s.TodayKey()})

	var b strings.Builder
	writeTotal(&b, "Session", AggregateRecords(session))
	writeTotal(&b, "Today", AggregateRecords(today))

	byKind := KindBreakdown(session)
	for _, k := range sortedKinds(byKind) {
		agg := byKind[k]
		fmt.Fprintf(&b, "  %-10s %s calls, %s tokens\n", k, GroupedInt(agg.Calls), HumanTokens(agg.TotalTokens))
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeTotal(b *strings.Builder, label string, agg Aggregate) {
	fmt.Fprintf(b, "%s: %s calls, %s tokens (%s in / %s out)",
		label,
		GroupedInt(agg.Calls),
		GroupedInt(agg.TotalTokens),
		HumanTokens(agg.PromptTokens),
		HumanTokens(agg.CompletionTokens),
	)
	if agg.UnknownCalls > 0 {
		fmt.Fprintf(b, ", %d without usage", agg.UnknownCalls)
	}
	b.WriteByte('\n')
}
