package domain

import "time"

// ─── Configuration Snapshot ─────────────────────────────────────────────────
// Every administrative save produces a new Snapshot. A published snapshot is
// never mutated; edits go through Clone and a fresh save.

// Snapshot is one immutable version of the engine configuration.
type Snapshot struct {
	Version    int64              `json:"version"`
	ID         string             `json:"id"`
	CreatedAt  time.Time          `json:"created_at"`
	Author     string             `json:"author,omitempty"`
	Catalog    TierCatalog        `json:"catalog"`
	ActiveRule ValidationRule     `json:"active_rule"`
	Ngr        NgrSettings        `json:"ngr"`
	Inactivity InactivitySettings `json:"inactivity"`
}

// Clone returns a deep copy suitable for editing.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.Catalog = s.Catalog.Clone()
	out.ActiveRule = s.ActiveRule.Clone()
	out.Inactivity = s.Inactivity.Clone()
	return &out
}
