package model

import (
	"strings"
	"time"
)

// Tier is a user's subscription level.
type Tier string

const (
	TierFree      Tier = "free"
	TierPlus      Tier = "plus"
	TierPaid      Tier = "paid"
	TierUnlimited Tier = "unlimited"
	TierAdmin     Tier = "admin"
)

// ParseTier maps a raw tier string to a Tier. Unknown or empty values map to free.
func ParseTier(raw string) Tier {
	switch t := Tier(strings.ToLower(strings.TrimSpace(raw))); t {
	case TierFree, TierPlus, TierPaid, TierUnlimited, TierAdmin:
		return t
	}
	return TierFree
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPlus, TierPaid, TierUnlimited, TierAdmin:
		return true
	}
	return false
}

// Profile is the stored account state for a user.
type Profile struct {
	UserID    string    `json:"user_id"`
	Tier      Tier      `json:"tier"`
	UpdatedAt time.Time `json:"updated_at"`
}
