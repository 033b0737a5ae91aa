package domain

import "math"

// ─── Tier Types ─────────────────────────────────────────────────────────────
// Categories are coarse affiliate classes; levels are steps inside a category
// keyed by a range of total validated referrals.

// NoUpperBound marks the open-ended top level.
const NoUpperBound int64 = math.MaxInt64

// Level is one step of a category.
type Level struct {
	ID             string     `json:"id"`
	CategoryID     string     `json:"category_id"`
	Name           string     `json:"name,omitempty"`
	MinReferrals   int64      `json:"min_referrals"`
	MaxReferrals   int64      `json:"max_referrals"`
	RevShareLevel1 Percentage `json:"rev_share_level_1"`
	LevelUpBonus   Money      `json:"level_up_bonus"`
}

// Contains reports whether n validated referrals fall inside the level.
func (l Level) Contains(n int64) bool {
	return n >= l.MinReferrals && n <= l.MaxReferrals
}

// Unbounded reports whether the level has no upper referral limit.
func (l Level) Unbounded() bool { return l.MaxReferrals == NoUpperBound }

// Category groups levels and carries the flat rate for upline levels 2–5.
type Category struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	RevShareLevels2to5 Percentage `json:"rev_share_levels_2_to_5"`
	Levels             []Level    `json:"levels"`
}

// TierCatalog is the full ordered set of categories.
type TierCatalog struct {
	Categories []Category `json:"categories"`
}

// Clone returns a deep copy.
func (c TierCatalog) Clone() TierCatalog {
	out := TierCatalog{Categories: make([]Category, len(c.Categories))}
	for i, cat := range c.Categories {
		cat.Levels = append([]Level(nil), cat.Levels...)
		out.Categories[i] = cat
	}
	return out
}

// LevelUpEvent is emitted once per level boundary crossed.
type LevelUpEvent struct {
	ID          string `json:"id"`
	AffiliateID string `json:"affiliate_id"`
	CategoryID  string `json:"category_id"`
	LevelID     string `json:"level_id"`
	Bonus       Money  `json:"bonus"`
	// Referrals is the validated-referral total that triggered the crossing.
	Referrals       int64 `json:"referrals"`
	SnapshotVersion int64 `json:"snapshot_version"`
}
