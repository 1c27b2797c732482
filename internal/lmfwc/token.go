package lmfwc

import (
	"strings"
	"time"
)

// remoteTimeLayouts covers the timestamp formats the remote service
// emits. All remote times are UTC.
var remoteTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// ParseTime parses a remote timestamp string. The second return value
// is false when the string is empty or matches no known layout.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range remoteTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ExtractLatestToken chooses the current activation token from a
// response. A single activation object yields its own token. A list is
// reduced to entries holding a non-empty token and scored by
// (is_active, recency): a record without deactivated_at always
// outranks a deactivated one, and among equals the most recently
// updated wins (updated_at, falling back to created_at, falling back
// to zero). Ties keep the earliest record. Returns "" when nothing
// qualifies.
func ExtractLatestToken(resp *ResponseData) string {
	if resp == nil || !resp.ActivationData.Present() {
		return ""
	}

	records := resp.ActivationData.Records
	if !resp.ActivationData.IsList() {
		if len(records) == 0 {
			return ""
		}
		return strings.TrimSpace(records[0].Token)
	}

	var (
		best      ActivationRecord
		bestScore tokenScore
		found     bool
	)
	for _, rec := range records {
		if strings.TrimSpace(rec.Token) == "" {
			continue
		}
		score := scoreRecord(rec)
		if !found || score.beats(bestScore) {
			best, bestScore, found = rec, score, true
		}
	}
	if !found {
		return ""
	}
	return strings.TrimSpace(best.Token)
}

type tokenScore struct {
	active  bool
	recency int64
}

func (s tokenScore) beats(other tokenScore) bool {
	if s.active != other.active {
		return s.active
	}
	return s.recency > other.recency
}

func scoreRecord(rec ActivationRecord) tokenScore {
	recency := parseEpoch(rec.UpdatedAt)
	if recency == 0 {
		recency = parseEpoch(rec.CreatedAt)
	}
	return tokenScore{active: rec.DeactivatedAt == "", recency: recency}
}

func parseEpoch(s string) int64 {
	t, ok := ParseTime(s)
	if !ok {
		return 0
	}
	return t.Unix()
}
