// Package tiers implements the affiliate tier catalog: validation of the
// category/level partition, range lookups, and level progression.
//
// Levels of all categories together must partition [0, ∞) on the
// total-validated-referrals axis:
//
//	[0..9] [10..24] | [25..49] [50..99] | [100..∞)
//	 Iniciante       Profissional        Elite
//
// A lookup that lands outside every level is a fatal configuration error
// (TierRangeGapError), never a silent fallback.
package tiers

import (
	"errors"
	"fmt"
	"sort"

	"github.com/affnet-network/affnet/internal/domain"
)

// ─── Catalog ────────────────────────────────────────────────────────────────

// Catalog is a validated, indexed, read-only view of a domain.TierCatalog.
type Catalog struct {
	categories []domain.Category
	levels     []domain.Level // global order, ascending MinReferrals
	levelIdx   map[string]int // level ID → index into levels
	catIdx     map[string]int // category ID → index into categories
}

// New validates c and builds the lookup indexes.
func New(c domain.TierCatalog) (*Catalog, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}
	c = c.Clone()

	cat := &Catalog{
		categories: c.Categories,
		levelIdx:   make(map[string]int),
		catIdx:     make(map[string]int, len(c.Categories)),
	}
	for i, category := range c.Categories {
		cat.catIdx[category.ID] = i
		cat.levels = append(cat.levels, category.Levels...)
	}
	sort.SliceStable(cat.levels, func(i, j int) bool {
		return cat.levels[i].MinReferrals < cat.levels[j].MinReferrals
	})
	for i, l := range cat.levels {
		cat.levelIdx[l.ID] = i
	}
	return cat, nil
}

// Validate checks every structural invariant of the catalog and reports all
// violations found, joined.
func Validate(c domain.TierCatalog) error {
	if len(c.Categories) == 0 {
		return &domain.CatalogError{Reason: "catalog has no categories"}
	}

	var (
		errs      []error
		all       []domain.Level
		seenCat   = make(map[string]bool)
		seenLevel = make(map[string]bool)
	)

	for _, cat := range c.Categories {
		if cat.ID == "" {
			errs = append(errs, &domain.CatalogError{Reason: "category without id"})
			continue
		}
		if seenCat[cat.ID] {
			errs = append(errs, &domain.CatalogError{CategoryID: cat.ID, Reason: "duplicate category id"})
		}
		seenCat[cat.ID] = true

		if !cat.RevShareLevels2to5.InRange() {
			errs = append(errs, &domain.CatalogError{CategoryID: cat.ID,
				Reason: fmt.Sprintf("rev share for levels 2-5 %s outside [0,100]", cat.RevShareLevels2to5)})
		}
		if len(cat.Levels) == 0 {
			errs = append(errs, &domain.CatalogError{CategoryID: cat.ID, Reason: "category has no levels"})
		}

		for i, l := range cat.Levels {
			switch {
			case l.ID == "":
				errs = append(errs, &domain.CatalogError{CategoryID: cat.ID, Reason: fmt.Sprintf("level %d without id", i)})
				continue
			case seenLevel[l.ID]:
				errs = append(errs, &domain.CatalogError{LevelID: l.ID, Reason: "duplicate level id"})
			}
			seenLevel[l.ID] = true

			if l.CategoryID != cat.ID {
				errs = append(errs, &domain.CatalogError{LevelID: l.ID,
					Reason: fmt.Sprintf("level belongs to %q but is listed under %q", l.CategoryID, cat.ID)})
			}
			if l.MinReferrals < 0 {
				errs = append(errs, &domain.CatalogError{LevelID: l.ID, Reason: "negative min referrals"})
			}
			if l.MinReferrals > l.MaxReferrals {
				errs = append(errs, &domain.CatalogError{LevelID: l.ID,
					Reason: fmt.Sprintf("min referrals %d above max %d", l.MinReferrals, l.MaxReferrals)})
			}
			if !l.RevShareLevel1.InRange() {
				errs = append(errs, &domain.CatalogError{LevelID: l.ID,
					Reason: fmt.Sprintf("level-1 rev share %s outside [0,100]", l.RevShareLevel1)})
			}
			if l.LevelUpBonus.IsNegative() {
				errs = append(errs, &domain.CatalogError{LevelID: l.ID, Reason: "negative level-up bonus"})
			}
			if i > 0 && l.MinReferrals < cat.Levels[i-1].MinReferrals {
				errs = append(errs, &domain.CatalogError{LevelID: l.ID, Reason: "levels not ordered by ascending min referrals"})
			}
			all = append(all, l)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return validatePartition(all)
}

// validatePartition walks all levels in ascending order and checks they tile
// [0, ∞) exactly, with each category occupying one contiguous run.
func validatePartition(levels []domain.Level) error {
	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].MinReferrals < levels[j].MinReferrals
	})

	var (
		errs     []error
		next     int64 // first referral count not yet covered
		closed   bool  // an unbounded level has been seen
		prev     domain.Level
		finished = make(map[string]bool)
	)

	for i, l := range levels {
		if i > 0 && l.CategoryID != prev.CategoryID {
			finished[prev.CategoryID] = true
			if finished[l.CategoryID] {
				errs = append(errs, &domain.CatalogError{CategoryID: l.CategoryID,
					Reason: "levels interleave with another category"})
			}
		}

		switch {
		case closed || l.MinReferrals < next:
			to := l.MaxReferrals
			if prev.MaxReferrals < to {
				to = prev.MaxReferrals
			}
			errs = append(errs, &domain.TierRangeOverlapError{
				LevelID: prev.ID, OtherLevelID: l.ID, From: l.MinReferrals, To: to,
			})
		case l.MinReferrals > next:
			errs = append(errs, &domain.TierRangeGapError{Referrals: next})
		}

		if l.Unbounded() {
			closed = true
		} else if l.MaxReferrals+1 > next {
			next = l.MaxReferrals + 1
		}
		prev = l
	}

	if !closed {
		errs = append(errs, &domain.TierRangeGapError{Referrals: next})
	}
	return errors.Join(errs...)
}

// ─── Lookups ────────────────────────────────────────────────────────────────

// Locate resolves n across the whole catalog.
func (c *Catalog) Locate(n int64) (domain.Category, domain.Level, error) {
	i := sort.Search(len(c.levels), func(i int) bool {
		return c.levels[i].MaxReferrals >= n
	})
	if n < 0 || i == len(c.levels) || !c.levels[i].Contains(n) {
		return domain.Category{}, domain.Level{}, &domain.TierRangeGapError{Referrals: n}
	}
	l := c.levels[i]
	return c.categories[c.catIdx[l.CategoryID]], l, nil
}

// ResolveLevel resolves n inside a single category.
func (c *Catalog) ResolveLevel(categoryID string, n int64) (domain.Level, error) {
	cat, err := c.Category(categoryID)
	if err != nil {
		return domain.Level{}, err
	}
	for _, l := range cat.Levels {
		if l.Contains(n) {
			return l, nil
		}
	}
	return domain.Level{}, &domain.TierRangeGapError{CategoryID: categoryID, Referrals: n}
}

// NextLevel returns the level following levelID in global order, which may
// belong to the next category. ok is false at the top level.
func (c *Catalog) NextLevel(levelID string) (next domain.Level, ok bool, err error) {
	i, found := c.levelIdx[levelID]
	if !found {
		return domain.Level{}, false, fmt.Errorf("%w: %s", domain.ErrUnknownLevel, levelID)
	}
	if i+1 >= len(c.levels) {
		return domain.Level{}, false, nil
	}
	return c.levels[i+1], true, nil
}

// ReferralsToNext returns how many more validated referrals move total out of
// levelID. Zero at the top level.
func (c *Catalog) ReferralsToNext(levelID string, total int64) (int64, error) {
	next, ok, err := c.NextLevel(levelID)
	if err != nil || !ok {
		return 0, err
	}
	if remaining := next.MinReferrals - total; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// Level returns a level by ID.
func (c *Catalog) Level(id string) (domain.Level, error) {
	i, ok := c.levelIdx[id]
	if !ok {
		return domain.Level{}, fmt.Errorf("%w: %s", domain.ErrUnknownLevel, id)
	}
	return c.levels[i], nil
}

// Category returns a category by ID.
func (c *Catalog) Category(id string) (domain.Category, error) {
	i, ok := c.catIdx[id]
	if !ok {
		return domain.Category{}, fmt.Errorf("%w: %s", domain.ErrUnknownCategory, id)
	}
	return c.categories[i], nil
}

// Levels returns all levels in global order.
func (c *Catalog) Levels() []domain.Level {
	return append([]domain.Level(nil), c.levels...)
}

// rank is a level's position in global order, -1 when unknown.
func (c *Catalog) rank(levelID string) int {
	if i, ok := c.levelIdx[levelID]; ok {
		return i
	}
	return -1
}
