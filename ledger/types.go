/*
Package ledger provides the core fact-recording engine for the youth
healthcare platform.

PURPOSE:
  This package contains the domain facts (screenings, support sessions,
  reward redemptions, achievement unlocks), the pure status-derivation
  rules, the per-user aggregate counters (points balance, unread
  notification count), and the notification dispatcher that fires on
  qualifying state transitions.

KEY CONCEPTS IN THIS FILE (types.go):
  - UserID: type-safe identifier for the root aggregate
  - Role: platform role (youth, staff, peer navigator, vendor)
  - PointsTransaction: an immutable ledger entry behind the cached balance

DESIGN PRINCIPLES:
  1. Counters are caches: points and unread counts are always explainable
     by replaying the underlying facts
  2. Precision: point deltas use decimal.Decimal, never float
  3. Explicit side effects: status derivation and counter updates are
     named operations the caller invokes, not hidden save hooks

SEE ALSO:
  - facts.go: Fact record definitions
  - derive.go: Pure status/classification rules
  - aggregate.go: Counter maintenance operations
  - dispatch.go: Notification synthesis
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// UserID identifies the root aggregate. Every fact below hangs off a user.
type UserID string

// =============================================================================
// ROLES
// =============================================================================

type Role string

const (
	RoleYouth         Role = "youth"
	RoleStaff         Role = "staff"
	RolePeerNavigator Role = "peer_navigator"
	RoleVendor        Role = "vendor"
)

func (r Role) Valid() bool {
	switch r {
	case RoleYouth, RoleStaff, RolePeerNavigator, RoleVendor:
		return true
	}
	return false
}

// CanConductScreenings reports whether this role may create screenings on
// behalf of others and schedule follow-ups.
func (r Role) CanConductScreenings() bool {
	return r == RoleStaff || r == RolePeerNavigator
}

// CanViewCrossUser reports whether this role may read other users' records
// and platform-wide statistics.
func (r Role) CanViewCrossUser() bool {
	return r == RoleStaff || r == RolePeerNavigator
}

// =============================================================================
// POINTS TRANSACTIONS - Append-only audit trail behind the cached balance
// =============================================================================

type PointsTxType string

const (
	TxCredit      PointsTxType = "credit"      // Manual/staff grant
	TxDebit       PointsTxType = "debit"       // Ordinary deduction
	TxAchievement PointsTxType = "achievement" // Achievement unlock reward
	TxRedemption  PointsTxType = "redemption"  // Points spent on a reward
	TxAdjustment  PointsTxType = "adjustment"  // Admin correction
)

// PointsTransaction records a single balance change. The users table holds
// the cached balance; this trail is how the cache stays explainable.
// Append-only: corrections are new adjustment entries, never edits.
type PointsTransaction struct {
	ID             string
	UserID         UserID
	Delta          decimal.Decimal // positive = credit, negative = debit
	Type           PointsTxType
	Reason         string
	ReferenceID    string // redemption/unlock ID that caused this entry
	IdempotencyKey string
	CreatedAt      time.Time
}

// PointsFromInt builds a decimal delta from a whole point count.
func PointsFromInt(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// ReplayBalance computes the balance implied by a transaction trail.
// Used by tests and reporting to check the cached balance.
func ReplayBalance(txs []PointsTransaction) decimal.Decimal {
	balance := decimal.Zero
	for _, tx := range txs {
		balance = balance.Add(tx.Delta)
	}
	return balance
}
