package usage

import (
	"strings"
	"testing"

	"github.com/mudscribe/mudscribe/pkg/gateway"
)

func TestHumanTokens(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{42, "42"},
		{1000, "1K"},
		{1532, "1.5K"},
		{64_000, "64K"},
		{999_949, "999.9K"},
		{999_999, "1M"},
		{2_400_000, "2.4M"},
	}

	for _, tc := range tests {
		if got := HumanTokens(tc.in); got != tc.want {
			t.Fatalf("HumanTokens(%d)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestGroupedInt(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0"},
		{7, "7"},
		{100, "100"},
		{4096, "4,096"},
		{123_456, "123,456"},
		{7_654_321, "7,654,321"},
		{-2500, "-2,500"},
	}

	for _, tc := range tests {
		if got := GroupedInt(tc.in); got != tc.want {
			t.Fatalf("GroupedInt(%d)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestReportListsKindsInOrder(t *testing.T) {
	s := NewStore("", "sess")
	s.RecordChat("translate", "m", gateway.Usage{PromptTokens: 40, CompletionTokens: 2, TotalTokens: 42, Known: true})
	s.RecordChat("actions", "m", gateway.Usage{PromptTokens: 900, CompletionTokens: 600, TotalTokens: 1500, Known: true})

	lines := strings.Split(s.Report(), "\n")
	if len(lines) != 4 {
		t.Fatalf("report lines = %d:\n%s", len(lines), strings.Join(lines, "\n"))
	}
	if !strings.HasPrefix(lines[1], "Today: 2 calls, 1,542 tokens") {
		t.Fatalf("today line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "actions") || !strings.Contains(lines[2], "1.5K tokens") {
		t.Fatalf("first kind line = %q", lines[2])
	}
	if !strings.Contains(lines[3], "translate") || !strings.Contains(lines[3], "42 tokens") {
		t.Fatalf("second kind line = %q", lines[3])
	}
}
