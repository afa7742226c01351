/*
derive.go - Pure status derivation rules

PURPOSE:
  Classification and status logic computed from a record's current fields,
  with no side effects beyond the fields themselves. Nothing here touches
  the store; callers apply the result and persist it explicitly.

RULES:
  - Screening classification fires once, while status is still pending.
    A result that contains "normal" (case-insensitive) or is entirely
    digits classifies as normal; anything else is abnormal and forces the
    follow-up flag. It never re-fires: once classified, only explicit
    updates change the status.
  - Redemption expiry is a pure function of the clock against ExpiresAt.
    The stored status column is advisory; callers needing the canonical
    state must ask IsExpired rather than trust it.
*/
package ledger

import (
	"strings"
	"time"
)

// =============================================================================
// SCREENING CLASSIFICATION
// =============================================================================

// Classify applies the first-save classification rule to a screening.
// Returns true if the record was mutated. Idempotent by construction: it
// only acts while status is pending and the result text is non-empty.
func Classify(s *ScreeningRecord) bool {
	if s.Status != ScreeningPending || s.Result == "" {
		return false
	}
	if resultLooksNormal(s.Result) {
		s.Status = ScreeningNormal
	} else {
		s.Status = ScreeningAbnormal
		s.RequiresFollowUp = true
	}
	return true
}

// resultLooksNormal matches the clinical shorthand the field teams use:
// free text mentioning "normal", or a bare numeric reading.
func resultLooksNormal(result string) bool {
	if strings.Contains(strings.ToLower(result), "normal") {
		return true
	}
	return allDigits(result)
}

// allDigits is a literal digit-only check, no whitespace or locale
// normalization. "120" is numeric; "120/80" and " 120" are not.
func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// =============================================================================
// REDEMPTION EXPIRY
// =============================================================================

// IsExpired reports whether a redemption has lapsed as of now.
// Strictly after: a redemption expiring at t is still valid at t.
func IsExpired(r Redemption, now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// ExpiryFor computes a redemption's expiry from its reward item window.
// Used at creation when the caller doesn't supply one.
func ExpiryFor(redeemedAt time.Time, item RewardItem) time.Time {
	return redeemedAt.AddDate(0, 0, item.ExpiryDays)
}

// EffectiveStatus resolves the advisory status column against the clock.
// Used status is terminal; otherwise expiry wins over whatever is stored.
func EffectiveStatus(r Redemption, now time.Time) RedemptionStatus {
	if r.Status == RedemptionUsed {
		return RedemptionUsed
	}
	if IsExpired(r, now) {
		return RedemptionExpired
	}
	return r.Status
}
