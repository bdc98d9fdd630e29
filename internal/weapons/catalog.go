// Package weapons resolves per-game weapon attributes: the skill multiplier
// fed into rating updates and the base damage used for derived damage
// figures. Lookups memoize store overrides over a built-in table.
package weapons

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// attributes is the built-in record per (game, weapon).
type attributes struct {
	BaseDamage float64
	SkillMult  float64
}

const (
	headshotDamageFactor = 4.0
	defaultBaseDamage    = 20
	defaultSkillMult     = 1.0
)

// gameAliases maps the game codes seen in server rows to the canonical id
// the built-in tables are keyed by.
var gameAliases = map[string]string{
	"cstrike": "cstrike",
	"cs":      "cstrike",
	"css":     "cstrike",
	"csgo":    "cstrike",
	"cs2":     "cstrike",
	"czero":   "cstrike",
}

// csWeapons is the built-in Counter-Strike table. Every value can be
// overridden per game+weapon through the store's weapon_modifiers lookup.
var csWeapons = map[string]attributes{
	"ak47":          {36, 1.0},
	"m4a4":          {33, 1.0},
	"m4a1":          {33, 1.0},
	"m4a1_silencer": {33, 1.0},
	"awp":           {115, 1.4},
	"ssg08":         {88, 1.3},
	"aug":           {33, 1.0},
	"famas":         {33, 1.0},
	"galil":         {33, 1.0},
	"deagle":        {53, 1.2},
	"glock":         {28, 1.1},
	"usp":           {35, 1.1},
	"ump45":         {35, 0.9},
	"mp5":           {26, 0.8},
	"p90":           {26, 0.8},
	"knife":         {42, 2.0},
	"grenade":       {140, 1.8},
	"unknown":       {30, 1.0},
}

var builtinTables = map[string]map[string]attributes{
	"cstrike": csWeapons,
}

// ModifierLookup is the slice of the store the catalog consults on a cache
// miss.
type ModifierLookup interface {
	WeaponModifier(ctx context.Context, game, weapon string) (float64, bool, error)
}

// Catalog memoizes resolved skill multipliers. Read-mostly: the cache takes
// a write lock only on insertion.
type Catalog struct {
	store  ModifierLookup
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	cache map[string]float64
}

func NewCatalog(store ModifierLookup, logger *zap.Logger) *Catalog {
	return &Catalog{
		store:  store,
		logger: logger.Sugar(),
		cache:  make(map[string]float64),
	}
}

// CanonicalGame resolves known game aliases; unknown codes pass through.
func CanonicalGame(game string) string {
	if canonical, ok := gameAliases[strings.ToLower(game)]; ok {
		return canonical
	}
	return strings.ToLower(game)
}

// SkillMultiplier returns the rating multiplier for a weapon in a game.
// Resolution order: memoized value, store override, built-in table, 1.0.
func (c *Catalog) SkillMultiplier(ctx context.Context, game, weapon string) float64 {
	game = CanonicalGame(game)
	weapon = strings.ToLower(weapon)
	key := game + ":" + weapon

	c.mu.RLock()
	mult, hit := c.cache[key]
	c.mu.RUnlock()
	if hit {
		return mult
	}

	mult = defaultSkillMult
	override, ok, err := c.store.WeaponModifier(ctx, game, weapon)
	switch {
	case err != nil:
		// Transient store failures fall back to the built-in value and are
		// not cached, so the override is retried on the next miss.
		c.logger.Warnw("weapon modifier lookup failed", "game", game, "weapon", weapon, "error", err)
		if attr, found := builtinTables[game][weapon]; found {
			return attr.SkillMult
		}
		return defaultSkillMult
	case ok:
		mult = override
	default:
		if attr, found := builtinTables[game][weapon]; found {
			mult = attr.SkillMult
		}
	}

	c.mu.Lock()
	c.cache[key] = mult
	c.mu.Unlock()
	return mult
}

// DamageMultiplier returns the estimated damage for one hit with the weapon,
// scaled for headshots.
func (c *Catalog) DamageMultiplier(weapon string, headshot bool) float64 {
	weapon = strings.ToLower(weapon)
	damage := float64(defaultBaseDamage)
	if attr, ok := csWeapons[weapon]; ok {
		damage = attr.BaseDamage
	}
	if headshot {
		damage *= headshotDamageFactor
	}
	return damage
}

// Clear drops every memoized entry.
func (c *Catalog) Clear() {
	c.mu.Lock()
	c.cache = make(map[string]float64)
	c.mu.Unlock()
}

// Size reports the number of memoized entries.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
