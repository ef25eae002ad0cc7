package main

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGame() *Game {
	return newGame(rand.New(rand.NewSource(1)))
}

func pollDefault(g *Game, id string) PollResult {
	return g.Poll(id, "10.0.0.1", -40, "neutral", 100, 87, "ok")
}

func recordFor(t *testing.T, g *Game, id string) DeviceRecord {
	t.Helper()

	for _, rec := range g.Snapshot() {
		if rec.ID == id {
			return rec
		}
	}

	t.Fatalf("no record for %s", id)
	return DeviceRecord{}
}

func rolesByID(g *Game) map[string]Role {
	out := make(map[string]Role)
	for _, rec := range g.Snapshot() {
		out[rec.ID] = rec.Role
	}
	return out
}

func TestSleepingForcesNeutral(t *testing.T) {
	g := testGame()

	result := g.Poll("d1", "10.0.0.1", -40, "zombie", 100, 87, "ok")

	assert.Equal(t, RoleNeutral, result.Role)
	assert.Equal(t, PhaseSleeping, result.Phase)
	assert.Equal(t, "sleep", recordFor(t, g, "d1").Status)
}

func TestClientStatusNeverOverridesPhase(t *testing.T) {
	g := testGame()

	// A badge claiming to be mid-game while the server sleeps still
	// gets stamped with the phase label.
	g.Poll("d1", "10.0.0.1", -40, "neutral", 100, 87, "ok")
	assert.Equal(t, "sleep", recordFor(t, g, "d1").Status)

	require.NoError(t, g.EnterPreparing(GameConfig{HumanPercent: 50, TimeoutSecs: 30, DurationMins: 60}))
	g.Poll("d1", "10.0.0.1", -40, "neutral", 100, 87, "ok")
	assert.Equal(t, "prepare", recordFor(t, g, "d1").Status)
}

func TestRolePreservedWhilePreparingAndEnded(t *testing.T) {
	g := testGame()

	pollDefault(g, "d1")
	require.NoError(t, g.EnterPreparing(GameConfig{HumanPercent: 100, TimeoutSecs: 30, DurationMins: 60}))
	g.EnterActive()

	// 100% human: d1 must be human.
	require.Equal(t, RoleHuman, recordFor(t, g, "d1").Role)

	g.EnterEnded()

	// Hinting zombie after the game ends changes nothing.
	result := g.Poll("d1", "10.0.0.1", -40, "zombie", 100, 87, "ok")
	assert.Equal(t, RoleHuman, result.Role)
	assert.Equal(t, PhaseEnded, result.Phase)

	// First contact after the end starts neutral.
	assert.Equal(t, RoleNeutral, pollDefault(g, "d2").Role)
	assert.Equal(t, "ended", recordFor(t, g, "d2").Status)
}

func TestPartitionExactness(t *testing.T) {
	cases := []struct {
		n      int
		pct    int
		humans int
	}{
		{n: 3, pct: 67, humans: 2},
		{n: 3, pct: 50, humans: 2}, // 1.5 rounds half up
		{n: 10, pct: 50, humans: 5},
		{n: 10, pct: 0, humans: 1},  // floor: at least one human
		{n: 1, pct: 0, humans: 1},   // floor holds for a single badge
		{n: 4, pct: 100, humans: 4}, // no matching zombie floor
	}

	for _, tc := range cases {
		rng := rand.New(rand.NewSource(7))

		ids := make([]string, tc.n)
		for i := range ids {
			ids[i] = string(rune('a' + i))
		}

		humans, zombies := partition(rng, ids, tc.pct)

		assert.Len(t, humans, tc.humans, "n=%d pct=%d", tc.n, tc.pct)
		assert.Len(t, zombies, tc.n-tc.humans, "n=%d pct=%d", tc.n, tc.pct)

		seen := make(map[string]bool)
		for _, id := range humans {
			seen[id] = true
		}
		for _, id := range zombies {
			assert.False(t, seen[id], "id %s in both groups", id)
			seen[id] = true
		}
		assert.Len(t, seen, tc.n)
	}
}

func TestPartitionEmpty(t *testing.T) {
	humans, zombies := partition(rand.New(rand.NewSource(1)), nil, 50)

	assert.Empty(t, humans)
	assert.Empty(t, zombies)
}

func TestSwapCorrectness(t *testing.T) {
	g := testGame()

	for _, id := range []string{"d1", "d2", "d3", "d4"} {
		pollDefault(g, id)
	}
	require.NoError(t, g.EnterPreparing(GameConfig{HumanPercent: 50, TimeoutSecs: 30, DurationMins: 60}))
	g.EnterActive()

	var human, zombie string
	for id, role := range rolesByID(g) {
		switch role {
		case RoleHuman:
			human = id
		case RoleZombie:
			zombie = id
		}
	}
	require.NotEmpty(t, human)
	require.NotEmpty(t, zombie)

	// Naming your current group is a no-op.
	assert.False(t, g.RequestRoleSwap(human, "human"))
	assert.Equal(t, RoleHuman, recordFor(t, g, human).Role)

	// Unknown labels are refused outright.
	assert.False(t, g.RequestRoleSwap(human, "werewolf"))
	assert.False(t, g.RequestRoleSwap(human, "neutral"))

	// Naming the other group moves exactly that badge.
	before := rolesByID(g)
	assert.True(t, g.RequestRoleSwap(zombie, "human"))

	after := rolesByID(g)
	assert.Equal(t, RoleHuman, after[zombie])
	for id, role := range before {
		if id == zombie {
			continue
		}
		assert.Equal(t, role, after[id], "bystander %s changed role", id)
	}

	// Ids in neither group never raise.
	assert.False(t, g.RequestRoleSwap("ghost", "human"))
}

func TestSwapRejectedOutsideActive(t *testing.T) {
	g := testGame()

	pollDefault(g, "d1")
	require.NoError(t, g.EnterPreparing(GameConfig{HumanPercent: 100, TimeoutSecs: 30, DurationMins: 60}))

	assert.False(t, g.RequestRoleSwap("d1", "zombie"))

	g.EnterActive()
	g.EnterEnded()

	assert.False(t, g.RequestRoleSwap("d1", "zombie"))
	assert.Equal(t, RoleHuman, recordFor(t, g, "d1").Role)
}

func TestIdempotentReset(t *testing.T) {
	g := testGame()

	pollDefault(g, "d1")
	pollDefault(g, "d2")
	require.NoError(t, g.EnterPreparing(GameConfig{HumanPercent: 50, TimeoutSecs: 30, DurationMins: 60}))
	g.EnterActive()

	g.Reset()
	once := g.State()

	g.Reset()
	twice := g.State()

	assert.Equal(t, once, twice)
	assert.Equal(t, PhaseSleeping, twice.Phase)
	assert.Zero(t, twice.Humans)
	assert.Zero(t, twice.Zombies)
	assert.Nil(t, twice.StartedAt)

	for _, rec := range twice.Devices {
		assert.Equal(t, RoleNeutral, rec.Role)
		assert.Equal(t, "sleep", rec.Status)
	}
}

func TestActivateKeepsStartClock(t *testing.T) {
	g := testGame()

	pollDefault(g, "d1")
	g.EnterActive()

	first := g.State().StartedAt
	require.NotNil(t, first)

	g.EnterActive()

	assert.Equal(t, first, g.State().StartedAt)
}

func TestInvalidPrepareLeavesStateAlone(t *testing.T) {
	g := testGame()

	before := g.State()

	assert.Error(t, g.EnterPreparing(GameConfig{HumanPercent: 150, TimeoutSecs: 30, DurationMins: 60}))
	assert.Error(t, g.EnterPreparing(GameConfig{HumanPercent: -1, TimeoutSecs: 30, DurationMins: 60}))

	after := g.State()
	assert.Equal(t, before.Phase, after.Phase)
	assert.Equal(t, before.Config, after.Config)
}

func TestExtendDurationUnconditional(t *testing.T) {
	g := testGame()

	base := g.State().Config.DurationMins

	// No phase guard: the increment lands even while sleeping.
	g.ExtendDuration(10)
	assert.Equal(t, base+10, g.State().Config.DurationMins)

	g.EnterActive()
	g.ExtendDuration(5)
	assert.Equal(t, base+15, g.State().Config.DurationMins)
}

func TestLateJoinerDuringActiveJoinsHorde(t *testing.T) {
	g := testGame()

	pollDefault(g, "d1")
	require.NoError(t, g.EnterPreparing(GameConfig{HumanPercent: 100, TimeoutSecs: 30, DurationMins: 60}))
	g.EnterActive()

	result := pollDefault(g, "latecomer")

	assert.Equal(t, RoleZombie, result.Role)
	assert.Equal(t, "active", recordFor(t, g, "latecomer").Status)

	// Once in the horde, the latecomer can swap like anyone else.
	assert.True(t, g.RequestRoleSwap("latecomer", "human"))
}

// The three-badge walkthrough: sleep, prepare at 67%, activate into a
// 2/1 split, then the lone zombie defects. No zombie floor stops the
// game reaching 3 humans and 0 zombies.
func TestThreeBadgeScenario(t *testing.T) {
	g := testGame()

	for _, id := range []string{"d1", "d2", "d3"} {
		result := pollDefault(g, id)
		assert.Equal(t, RoleNeutral, result.Role)
		assert.Equal(t, "sleep", result.Phase.String())
	}

	require.NoError(t, g.EnterPreparing(GameConfig{HumanPercent: 67, TimeoutSecs: 30, DurationMins: 15}))

	for _, rec := range g.Snapshot() {
		assert.Equal(t, "prepare", rec.Status)
		assert.Equal(t, RoleNeutral, rec.Role)
	}

	g.EnterActive()

	state := g.State()
	require.Equal(t, 2, state.Humans)
	require.Equal(t, 1, state.Zombies)

	var zombie string
	for id, role := range rolesByID(g) {
		if role == RoleZombie {
			zombie = id
		}
	}
	require.NotEmpty(t, zombie)

	// The zombie polls requesting "human" and is let through.
	result := g.Poll(zombie, "10.0.0.1", -40, "human", 100, 87, "ok")
	assert.Equal(t, RoleHuman, result.Role)

	state = g.State()
	assert.Equal(t, 3, state.Humans)
	assert.Equal(t, 0, state.Zombies)
}

func TestPollResponseCarriesConfig(t *testing.T) {
	g := testGame()

	require.NoError(t, g.EnterPreparing(GameConfig{HumanPercent: 40, TimeoutSecs: 12, DurationMins: 90}))

	result := pollDefault(g, "d1")

	assert.Equal(t, 12, result.TimeoutSecs)
	assert.Equal(t, 90, result.DurationMins)
}

func TestSnapshotSortedAndDetached(t *testing.T) {
	g := testGame()

	for _, id := range []string{"zeta", "alpha", "mu"} {
		pollDefault(g, id)
	}

	snap := g.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "alpha", snap[0].ID)
	assert.Equal(t, "mu", snap[1].ID)
	assert.Equal(t, "zeta", snap[2].ID)

	// Mutating the copy must not leak back into the registry.
	snap[0].Role = RoleZombie
	assert.Equal(t, RoleNeutral, recordFor(t, g, "alpha").Role)
}

// Polls racing phase transitions must never observe a torn (role,
// phase) pair: sleeping answers are always neutral, active answers are
// never neutral (latecomers are dealt to the horde).
func TestConcurrentPollsAndTransitions(t *testing.T) {
	g := testGame()

	var wg sync.WaitGroup
	var torn sync.Map

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			id := fmt.Sprintf("d%d", n)
			for j := 0; j < 50; j++ {
				result := pollDefault(g, id)

				switch result.Phase {
				case PhaseSleeping:
					if result.Role != RoleNeutral {
						torn.Store(fmt.Sprintf("%s sleeping as %s", id, result.Role), true)
					}
				case PhaseActive:
					if result.Role == RoleNeutral {
						torn.Store(id+" active as neutral", true)
					}
				}
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		for j := 0; j < 10; j++ {
			_ = g.EnterPreparing(GameConfig{HumanPercent: 50, TimeoutSecs: 30, DurationMins: 60})
			g.EnterActive()
			g.EnterEnded()
			g.Reset()
		}
	}()

	wg.Wait()

	torn.Range(func(key, _ any) bool {
		t.Errorf("torn observation: %v", key)
		return true
	})

	assert.Len(t, g.Snapshot(), 8)
}

func TestRoleAndPhaseLabels(t *testing.T) {
	assert.Equal(t, "neutral", RoleNeutral.String())
	assert.Equal(t, "human", RoleHuman.String())
	assert.Equal(t, "zombie", RoleZombie.String())

	assert.Equal(t, "sleep", PhaseSleeping.String())
	assert.Equal(t, "prepare", PhasePreparing.String())
	assert.Equal(t, "active", PhaseActive.String())
	assert.Equal(t, "ended", PhaseEnded.String())

	_, ok := parseRole("werewolf")
	assert.False(t, ok)
}
