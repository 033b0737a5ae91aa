package tiers

import (
	"fmt"
	"sync"

	"github.com/affnet-network/affnet/internal/domain"
)

// ─── Progression ────────────────────────────────────────────────────────────

// Advance moves an affiliate to newTotal validated referrals. One
// LevelUpEvent is returned for every level whose lower bound was crossed,
// so a batched increment spanning several levels pays every bonus.
//
// Level assignment never moves down: if the catalog resolves newTotal to a
// level ranked below the affiliate's current one, the current level is kept.
// Event IDs are left empty for the caller to assign.
func (c *Catalog) Advance(a domain.Affiliate, newTotal int64) (domain.Affiliate, []domain.LevelUpEvent, error) {
	old := a.TotalValidatedReferrals
	if newTotal < old {
		return a, nil, fmt.Errorf("%w: %d → %d", domain.ErrReferralsNotIncreased, old, newTotal)
	}

	_, target, err := c.Locate(newTotal)
	if err != nil {
		return a, nil, err
	}

	currentRank := c.rank(a.CurrentLevelID)
	targetRank := c.levelIdx[target.ID]

	var events []domain.LevelUpEvent
	for i := currentRank + 1; i <= targetRank; i++ {
		l := c.levels[i]
		if l.MinReferrals <= old || l.MinReferrals > newTotal {
			continue
		}
		events = append(events, domain.LevelUpEvent{
			AffiliateID: a.ID,
			CategoryID:  l.CategoryID,
			LevelID:     l.ID,
			Bonus:       l.LevelUpBonus,
			Referrals:   newTotal,
		})
	}

	a.TotalValidatedReferrals = newTotal
	if targetRank > currentRank {
		a.CurrentLevelID = target.ID
		a.CurrentCategoryID = target.CategoryID
	}
	return a, events, nil
}

// Place assigns the starting category and level for a newly registered
// affiliate from its current total.
func (c *Catalog) Place(a domain.Affiliate) (domain.Affiliate, error) {
	cat, l, err := c.Locate(a.TotalValidatedReferrals)
	if err != nil {
		return a, err
	}
	a.CurrentCategoryID = cat.ID
	a.CurrentLevelID = l.ID
	return a, nil
}

// ─── Per-Affiliate Locking ──────────────────────────────────────────────────

// KeyedMutex serializes work per key while letting distinct keys proceed in
// parallel. Entries are reference-counted and dropped when unused.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock acquires the lock for key and returns its release function.
func (k *KeyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// Len returns the number of keys currently held or waited on.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
