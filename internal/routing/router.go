// Package routing picks which upstream account should serve a request and
// in what order the rest should be tried if it fails.
package routing

import (
	"sort"
	"sync"
	"time"

	"proxygate/internal/cooldown"
	"proxygate/internal/db"
	"proxygate/internal/models"
	"proxygate/internal/ratelimit"
	"proxygate/internal/tenant"
)

// ResolvedRoute is the outcome of a routing decision: the account to call
// first, plus an already-ordered fallback list to walk on failure.
type ResolvedRoute struct {
	Account            db.Account
	TargetModel        string
	NeedsFormatConvert bool
	Tier               models.Tier
	ConfigID           string
	Fallbacks          []Candidate
}

// Candidate pairs an account with the model name to send it.
type Candidate struct {
	Account     db.Account
	TargetModel string
}

// contender is a candidate still carrying its tier-assignment priority,
// used only while a strategy is ordering the pool.
type contender struct {
	Candidate
	priority int
}

// Resolve picks a route for model using whatever config is currently active.
func Resolve(model string) (*ResolvedRoute, error) {
	return resolve(model, "")
}

// ResolveForTenant picks a route for model, preferring the tenant's own
// config when it has one configured.
func ResolveForTenant(model string, t *tenant.Tenant) (*ResolvedRoute, error) {
	if t == nil || t.ConfigID == "" {
		return Resolve(model)
	}
	return resolve(model, t.ConfigID)
}

func resolve(model, configID string) (*ResolvedRoute, error) {
	tier := models.DetectTier(model)

	cfg, err := loadConfig(configID)
	if err != nil {
		return nil, err
	}

	enabled, err := db.GetEnabledAccounts()
	if err != nil {
		return nil, err
	}
	if len(enabled) == 0 {
		return nil, nil
	}

	if cfg == nil {
		return singleAccountRoute(pickDefaultAccount(enabled), tier, ""), nil
	}

	tiered, err := db.GetConfigTiers(cfg.ID)
	if err != nil {
		return nil, err
	}
	assignments := assignmentsForTier(tiered, tier)
	if len(assignments) == 0 {
		return singleAccountRoute(enabled[0], tier, cfg.ID), nil
	}

	pool := eligiblePool(assignments, enabled)
	if len(pool) == 0 {
		return nil, nil
	}

	ordered := order(cfg.RoutingStrategy, pool, cfg.ID, string(tier))
	return routeFromOrdered(ordered, tier, cfg.ID), nil
}

func loadConfig(configID string) (*db.Config, error) {
	if configID != "" {
		return db.GetConfigByID(configID)
	}
	return db.GetActiveConfig()
}

// pickDefaultAccount favors an Anthropic account when no config picks a
// strategy for us, since it needs no format conversion.
func pickDefaultAccount(enabled []db.Account) db.Account {
	for _, a := range enabled {
		if a.Provider == "anthropic" {
			return a
		}
	}
	return enabled[0]
}

func singleAccountRoute(account db.Account, tier models.Tier, configID string) *ResolvedRoute {
	return &ResolvedRoute{
		Account:            account,
		NeedsFormatConvert: account.Provider != "anthropic",
		Tier:               tier,
		ConfigID:           configID,
	}
}

func assignmentsForTier(all []db.ConfigTier, tier models.Tier) []db.ConfigTier {
	if tier == "" {
		return all
	}
	var matched []db.ConfigTier
	for _, ct := range all {
		if models.Tier(ct.Tier) == tier {
			matched = append(matched, ct)
		}
	}
	return matched
}

// eligiblePool resolves each tier assignment to its live account record and
// drops any that are rate-limited or already over their monthly budget.
func eligiblePool(assignments []db.ConfigTier, enabled []db.Account) []contender {
	byID := make(map[string]db.Account, len(enabled))
	for _, a := range enabled {
		byID[a.ID] = a
	}

	var pool []contender
	for _, assign := range assignments {
		account, ok := byID[assign.AccountID]
		if !ok || !withinBudget(account) || ratelimit.IsRateLimited(account.ID, account.RateLimit) {
			continue
		}
		pool = append(pool, contender{
			Candidate: Candidate{Account: account, TargetModel: assign.TargetModel},
			priority:  assign.Priority,
		})
	}
	return pool
}

func withinBudget(a db.Account) bool {
	if !a.MonthlyBudget.Valid || a.MonthlyBudget.Float64 <= 0 {
		return true
	}
	return db.GetMonthlySpend(a.ID) < a.MonthlyBudget.Float64
}

func routeFromOrdered(ordered []contender, tier models.Tier, configID string) *ResolvedRoute {
	primary := ordered[0]
	fallbacks := make([]Candidate, 0, len(ordered)-1)
	for _, c := range ordered[1:] {
		fallbacks = append(fallbacks, c.Candidate)
	}
	return &ResolvedRoute{
		Account:            primary.Account,
		TargetModel:        primary.TargetModel,
		NeedsFormatConvert: primary.Account.Provider != "anthropic",
		Tier:               tier,
		ConfigID:           configID,
		Fallbacks:          fallbacks,
	}
}

// strategy reorders a pool of contenders in place according to one routing
// policy and returns it.
type strategy func(pool []contender, configID, tier string) []contender

var strategies = map[string]strategy{
	"round-robin":  rotateRoundRobin,
	"least-used":   byAscendingSpend,
	"budget-aware": byRemainingBudget,
	"priority":     byDeclaredPriority,
}

func order(name string, pool []contender, configID, tier string) []contender {
	s, ok := strategies[name]
	if !ok {
		s = byDeclaredPriority
	}
	return s(pool, configID, tier)
}

// rotation tracks the next rotation offset per config+tier pair for the
// round-robin strategy.
var rotation = struct {
	mu      sync.Mutex
	offsets map[string]int
}{offsets: make(map[string]int)}

func rotateRoundRobin(pool []contender, configID, tier string) []contender {
	key := configID + ":" + tier

	rotation.mu.Lock()
	offset := rotation.offsets[key] % len(pool)
	rotation.offsets[key] = offset + 1
	rotation.mu.Unlock()

	rotated := make([]contender, len(pool))
	copy(rotated, pool[offset:])
	copy(rotated[len(pool)-offset:], pool[:offset])
	return rotated
}

func byAscendingSpend(pool []contender, _, _ string) []contender {
	ranked := append([]contender(nil), pool...)
	sort.Slice(ranked, func(i, j int) bool {
		return db.GetMonthlySpend(ranked[i].Account.ID) < db.GetMonthlySpend(ranked[j].Account.ID)
	})
	return ranked
}

func byRemainingBudget(pool []contender, _, _ string) []contender {
	const unbounded = 1e18
	headroom := func(c contender) float64 {
		budget := unbounded
		if c.Account.MonthlyBudget.Valid && c.Account.MonthlyBudget.Float64 > 0 {
			budget = c.Account.MonthlyBudget.Float64
		}
		return budget - db.GetMonthlySpend(c.Account.ID)
	}

	ranked := append([]contender(nil), pool...)
	sort.Slice(ranked, func(i, j int) bool { return headroom(ranked[i]) > headroom(ranked[j]) })
	return ranked
}

func byDeclaredPriority(pool []contender, _, _ string) []contender {
	ranked := append([]contender(nil), pool...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].priority > ranked[j].priority })
	return ranked
}

// SortByCooldown stable-sorts candidates so accounts not currently cooling
// down come first, and among cooling-down accounts the soonest to recover
// comes first.
func SortByCooldown(candidates []Candidate) []Candidate {
	now := time.Now()
	sorted := append([]Candidate(nil), candidates...)

	readyAt := func(c Candidate) time.Time {
		until := cooldown.CooldownUntil(c.Account.ID)
		if until.IsZero() || !until.After(now) {
			return time.Time{}
		}
		return until
	}

	sort.SliceStable(sorted, func(i, j int) bool {
		ri, rj := readyAt(sorted[i]), readyAt(sorted[j])
		if ri.IsZero() != rj.IsZero() {
			return ri.IsZero()
		}
		return ri.Before(rj)
	})
	return sorted
}
