package domain

import "time"

// Money is an amount in whole currency units. There are no fractional
// subunits in this domain.
type Money int64

// ============================================================
// Relationships & time bands
// ============================================================

// Relationship is the family relationship between the account holder and a
// guardian or a recipient.
type Relationship string

const (
	RelationshipChild         Relationship = "child"
	RelationshipSpouse        Relationship = "spouse"
	RelationshipParent        Relationship = "parent"
	RelationshipSibling       Relationship = "sibling"
	RelationshipGrandchild    Relationship = "grandchild"
	RelationshipExtended      Relationship = "extended"
	RelationshipCaregiver     Relationship = "caregiver"
	RelationshipLegalGuardian Relationship = "legal_guardian"
)

// Relationships lists every known relationship.
var Relationships = []Relationship{
	RelationshipChild,
	RelationshipSpouse,
	RelationshipParent,
	RelationshipSibling,
	RelationshipGrandchild,
	RelationshipExtended,
	RelationshipCaregiver,
	RelationshipLegalGuardian,
}

// Valid reports whether r is one of the known relationships.
func (r Relationship) Valid() bool {
	for _, known := range Relationships {
		if r == known {
			return true
		}
	}
	return false
}

// TimeBand is one of four fixed daily windows used to scale limits.
type TimeBand string

const (
	TimeBandMorning   TimeBand = "morning"   // 06-12
	TimeBandAfternoon TimeBand = "afternoon" // 12-18
	TimeBandEvening   TimeBand = "evening"   // 18-24
	TimeBandNight     TimeBand = "night"     // 00-06
)

// TimeBands lists every time band.
var TimeBands = []TimeBand{TimeBandMorning, TimeBandAfternoon, TimeBandEvening, TimeBandNight}

// Valid reports whether b is one of the known time bands.
func (b TimeBand) Valid() bool {
	switch b {
	case TimeBandMorning, TimeBandAfternoon, TimeBandEvening, TimeBandNight:
		return true
	}
	return false
}

// BandOf returns the time band containing t, using t's own location.
func BandOf(t time.Time) TimeBand {
	switch h := t.Hour(); {
	case h < 6:
		return TimeBandNight
	case h < 12:
		return TimeBandMorning
	case h < 18:
		return TimeBandAfternoon
	default:
		return TimeBandEvening
	}
}

// ============================================================
// Limit configuration
// ============================================================

// LimitConfig is the active limit configuration of one account holder.
// It is replaced wholesale on update.
type LimitConfig struct {
	AccountHolderID     string                 `json:"accountHolderId"`
	BaseLimit           Money                  `json:"baseLimit"`
	LimitByRelationship map[Relationship]Money `json:"limitByRelationship"`
	LimitByTimeOfDay    map[TimeBand]Money     `json:"limitByTimeOfDay"`
	LastUpdated         time.Time              `json:"lastUpdated"`
}

// DefaultLimitConfig returns the configuration applied to account holders
// that never saved one.
func DefaultLimitConfig(accountHolderID string) *LimitConfig {
	return &LimitConfig{
		AccountHolderID: accountHolderID,
		BaseLimit:       5_000_000,
		LimitByRelationship: map[Relationship]Money{
			RelationshipChild:         10_000_000,
			RelationshipSpouse:        20_000_000,
			RelationshipParent:        5_000_000,
			RelationshipSibling:       3_000_000,
			RelationshipGrandchild:    2_000_000,
			RelationshipExtended:      1_000_000,
			RelationshipCaregiver:     500_000,
			RelationshipLegalGuardian: 20_000_000,
		},
		LimitByTimeOfDay: map[TimeBand]Money{
			TimeBandMorning:   5_000_000,
			TimeBandAfternoon: 5_000_000,
			TimeBandEvening:   3_000_000,
			TimeBandNight:     1_000_000,
		},
	}
}

// Clone returns a deep copy so callers can hold a snapshot that later
// updates never touch.
func (c *LimitConfig) Clone() *LimitConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.LimitByRelationship = make(map[Relationship]Money, len(c.LimitByRelationship))
	for k, v := range c.LimitByRelationship {
		out.LimitByRelationship[k] = v
	}
	out.LimitByTimeOfDay = make(map[TimeBand]Money, len(c.LimitByTimeOfDay))
	for k, v := range c.LimitByTimeOfDay {
		out.LimitByTimeOfDay[k] = v
	}
	return &out
}

// Validate rejects malformed configurations before they are used.
func (c *LimitConfig) Validate() error {
	if c == nil {
		return &ErrInvalidConfig{Field: "config", Reason: "missing"}
	}
	if c.BaseLimit < 0 {
		return &ErrInvalidConfig{Field: "baseLimit", Reason: "must not be negative"}
	}
	for rel, v := range c.LimitByRelationship {
		if !rel.Valid() {
			return &ErrInvalidConfig{Field: "limitByRelationship", Reason: "unknown relationship " + string(rel)}
		}
		if v < 0 {
			return &ErrInvalidConfig{Field: "limitByRelationship." + string(rel), Reason: "must not be negative"}
		}
	}
	for band, v := range c.LimitByTimeOfDay {
		if !band.Valid() {
			return &ErrInvalidConfig{Field: "limitByTimeOfDay", Reason: "unknown time band " + string(band)}
		}
		if v < 0 {
			return &ErrInvalidConfig{Field: "limitByTimeOfDay." + string(band), Reason: "must not be negative"}
		}
	}
	return nil
}

// TransferLimitCheck is derived per draft and never persisted on its own.
type TransferLimitCheck struct {
	WithinLimit         bool   `json:"withinLimit"`
	RemainingDailyLimit Money  `json:"remainingDailyLimit"`
	RequiresApproval    bool   `json:"requiresApproval"`
	EffectiveLimit      Money  `json:"effectiveLimit"`
	AppliedRule         string `json:"appliedRule"` // base, relationship:<rel>, time_of_day:<band>
}
