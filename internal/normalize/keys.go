package normalize

import (
	"strconv"
	"strings"

	"github.com/prrao87/application-graph/internal/domain"
)

// ParseKey maps a decorated string identifier onto its canonical int64 key:
// trim, strip the configured prefixes, then parse the trailing digit run.
// Pure: the same input always yields the same key, across runs and restarts.
// The returned reason is empty for a valid key.
//
//	ParseKey("nr:12345", []string{"nr:"})  -> 12345
//	ParseKey("A-001", nil)                 -> 1
//	ParseKey("B07BCF4A", nil)              -> non_numeric
func ParseKey(raw string, strip []string) (int64, domain.ExclusionReason) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, domain.ReasonEmpty
	}
	for _, prefix := range strip {
		s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
	}
	if s == "" {
		return 0, domain.ReasonEmpty
	}

	// An explicit sign is never decoration; negative keys are disallowed.
	if s[0] == '-' && len(s) > 1 && allDigits(s[1:]) {
		return 0, domain.ReasonOutOfRange
	}

	first := firstDigit(s)
	if first < 0 {
		return 0, domain.ReasonNonNumeric
	}
	digits := s[first:]
	if !allDigits(digits) {
		return 0, domain.ReasonNonNumeric
	}

	key, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, domain.ReasonOutOfRange
	}
	return key, ""
}

func firstDigit(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			return i
		}
	}
	return -1
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// enumerator hands out first-seen sequence keys starting at 1. Repeated raw
// values resolve to the key they were first assigned, so the mapping is
// deterministic within a run. Used only for auxiliary key spaces that never
// enter the graph.
type enumerator struct {
	next  int64
	byRaw map[string]int64
}

func newEnumerator() *enumerator {
	return &enumerator{next: 1, byRaw: map[string]int64{}}
}

func (e *enumerator) keyFor(raw string) int64 {
	if key, ok := e.byRaw[raw]; ok {
		return key
	}
	key := e.next
	e.next++
	e.byRaw[raw] = key
	return key
}
