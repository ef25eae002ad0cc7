package main

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// GameConfig holds the operator-tunable activity parameters. Timeout and
// duration are advisory values handed back to badges on every poll; the
// server itself never enforces them.
type GameConfig struct {
	HumanPercent int `json:"human_percent"`
	TimeoutSecs  int `json:"timeout"`
	DurationMins int `json:"duration"`
}

// PollResult is what a badge learns from one check-in.
type PollResult struct {
	Role         Role
	Phase        Phase
	TimeoutSecs  int
	DurationMins int
}

// Game owns the full coordination state: the badge registry, the phase,
// the activity config, and the two role groups. Every operation takes
// the one mutex for its whole read-modify-write sequence, so a poll and
// a phase transition can never interleave into a torn (role, phase)
// answer.
type Game struct {
	mu sync.Mutex

	devices   deviceRegistry
	phase     Phase
	config    GameConfig
	startedAt time.Time

	humans  map[string]bool
	zombies map[string]bool

	rng *rand.Rand

	// onChange fires after every mutating operation, outside the lock.
	// The board hub hangs off it; nil when nobody is watching.
	onChange func()
}

func newGame(rng *rand.Rand) *Game {
	if rng == nil {
		now := time.Now().UnixNano()
		rng = rand.New(rand.NewSource(now))
	}

	return &Game{
		devices: make(deviceRegistry),
		phase:   PhaseSleeping,
		config: GameConfig{
			HumanPercent: 50,
			TimeoutSecs:  30,
			DurationMins: 60,
		},
		humans:  make(map[string]bool),
		zombies: make(map[string]bool),
		rng:     rng,
	}
}

func (g *Game) changed() {
	if g.onChange != nil {
		g.onChange()
	}
}

// Poll handles one badge check-in: telemetry upsert, role resolution for
// the current phase, and (while active) the role hint doubling as a swap
// request. Field presence is the handler's problem; Poll is total.
func (g *Game) Poll(id, ip string, rssi int, roleHint string, health, battery int, comment string) PollResult {
	g.mu.Lock()

	rec, known := g.devices.upsert(id, ip, rssi, health, battery, comment, g.phase, time.Now())

	switch g.phase {
	case PhaseSleeping:
		rec.Role = RoleNeutral

	case PhasePreparing, PhaseEnded:
		// Role survives from the previous record; first-seen badges
		// start neutral. The hint has no effect here.
		if !known {
			rec.Role = RoleNeutral
		}

	case PhaseActive:
		// Badges that missed the partition join the horde.
		if !g.humans[id] && !g.zombies[id] {
			g.zombies[id] = true
		}
		rec.Role = g.roleForLocked(id)

		if want, ok := parseRole(roleHint); ok && g.swapLocked(id, want) {
			rec.Role = want
		}
	}

	result := PollResult{
		Role:         rec.Role,
		Phase:        g.phase,
		TimeoutSecs:  g.config.TimeoutSecs,
		DurationMins: g.config.DurationMins,
	}

	g.mu.Unlock()
	g.changed()

	return result
}

func (g *Game) roleForLocked(id string) Role {
	switch {
	case g.humans[id]:
		return RoleHuman
	case g.zombies[id]:
		return RoleZombie
	default:
		return RoleNeutral
	}
}

// swapLocked moves id between the two groups if the requested role names
// the opposite group. Requests for the badge's current role, for
// neutral, or for an id in neither group are quietly refused.
func (g *Game) swapLocked(id string, want Role) bool {
	switch {
	case want == RoleHuman && g.zombies[id]:
		delete(g.zombies, id)
		g.humans[id] = true
	case want == RoleZombie && g.humans[id]:
		delete(g.humans, id)
		g.zombies[id] = true
	default:
		return false
	}

	if rec, ok := g.devices[id]; ok {
		rec.Role = want
	}

	return true
}

// RequestRoleSwap applies an in-flight role change for one badge. Only
// valid while the activity is running; rejections are silent policy, not
// errors.
func (g *Game) RequestRoleSwap(id, label string) bool {
	g.mu.Lock()

	if g.phase != PhaseActive {
		g.mu.Unlock()
		return false
	}

	want, ok := parseRole(label)
	if !ok {
		g.mu.Unlock()
		return false
	}

	moved := g.swapLocked(id, want)

	g.mu.Unlock()
	if moved {
		g.changed()
	}

	return moved
}

// Reset returns the activity to its pristine sleeping state: all badges
// neutral, groups empty, start clock cleared. Safe to repeat.
func (g *Game) Reset() {
	g.mu.Lock()

	g.phase = PhaseSleeping
	g.startedAt = time.Time{}
	g.humans = make(map[string]bool)
	g.zombies = make(map[string]bool)

	for _, rec := range g.devices {
		rec.Role = RoleNeutral
		rec.Status = g.phase.String()
	}

	g.mu.Unlock()
	g.changed()
}

// EnterPreparing stores the supplied config and moves to the prepare
// phase. Invalid input leaves both the config and the phase untouched.
func (g *Game) EnterPreparing(cfg GameConfig) error {
	if cfg.HumanPercent < 0 || cfg.HumanPercent > 100 {
		return fmt.Errorf("human percentage out of range (must be between 0-100 inclusive): %d", cfg.HumanPercent)
	}

	g.mu.Lock()

	g.phase = PhasePreparing
	g.config = cfg

	for _, rec := range g.devices {
		rec.Status = g.phase.String()
	}

	g.mu.Unlock()
	g.changed()

	return nil
}

// EnterActive starts the activity: the start clock is set once, and the
// badges known right now are partitioned into the two groups. Triggering
// it again reshuffles the groups but never resets the clock.
func (g *Game) EnterActive() {
	g.mu.Lock()

	g.phase = PhaseActive
	if g.startedAt.IsZero() {
		g.startedAt = time.Now()
	}

	ids := make([]string, 0, len(g.devices))
	for id := range g.devices {
		ids = append(ids, id)
	}

	humans, zombies := partition(g.rng, ids, g.config.HumanPercent)

	g.humans = make(map[string]bool, len(humans))
	for _, id := range humans {
		g.humans[id] = true
	}
	g.zombies = make(map[string]bool, len(zombies))
	for _, id := range zombies {
		g.zombies[id] = true
	}

	for id, rec := range g.devices {
		rec.Role = g.roleForLocked(id)
		rec.Status = g.phase.String()
	}

	g.mu.Unlock()
	g.changed()
}

// ExtendDuration adds deltaMinutes to the configured duration. No phase
// guard: the increment always lands.
func (g *Game) ExtendDuration(deltaMinutes int) {
	g.mu.Lock()
	g.config.DurationMins += deltaMinutes
	g.mu.Unlock()
	g.changed()
}

// EnterEnded closes the activity. Group membership stays frozen for
// reporting; only Reset leaves this phase.
func (g *Game) EnterEnded() {
	g.mu.Lock()

	g.phase = PhaseEnded

	for _, rec := range g.devices {
		rec.Status = g.phase.String()
	}

	g.mu.Unlock()
	g.changed()
}

// Snapshot returns all badge records, stable-sorted by id.
func (g *Game) Snapshot() []DeviceRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.devices.snapshot()
}

// State returns the phase, config and group tallies alongside the
// snapshot, for the board and its websocket feed.
func (g *Game) State() BoardState {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := BoardState{
		Type:    "state",
		Phase:   g.phase,
		Config:  g.config,
		Humans:  len(g.humans),
		Zombies: len(g.zombies),
		Devices: g.devices.snapshot(),
	}

	if !g.startedAt.IsZero() {
		started := g.startedAt
		state.StartedAt = &started
	}

	return state
}

// partition shuffles ids uniformly and deals the first
// round(n·pct/100) of them, never fewer than one, to the human group.
// There is no matching floor for the zombie group: 100% legally empties
// it.
func partition(rng *rand.Rand, ids []string, pct int) (humans, zombies []string) {
	n := len(ids)
	if n == 0 {
		return nil, nil
	}

	shuffled := make([]string, n)
	copy(shuffled, ids)
	rng.Shuffle(n, func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	humanCount := int(math.Round(float64(n) * float64(pct) / 100))
	if humanCount < 1 {
		humanCount = 1
	}
	if humanCount > n {
		humanCount = n
	}

	return shuffled[:humanCount], shuffled[humanCount:]
}
