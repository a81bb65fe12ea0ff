// Package guard serializes user-triggered operations. It is the sole
// gate in front of update and repair; nothing else may start a batch.
package guard

import (
	"fmt"
	"sync"
	"time"
)

// Operation is a user-triggered action.
type Operation string

const (
	OpUpdate Operation = "update"
	OpRepair Operation = "repair"
	OpPlay   Operation = "play"
)

// State is the guard's current activity.
type State int

const (
	Idle State = iota
	Updating
	Repairing
)

func (s State) String() string {
	switch s {
	case Updating:
		return "update"
	case Repairing:
		return "repair"
	default:
		return "idle"
	}
}

const (
	// DefaultDebounce absorbs accidental double-clicks. Repeats inside
	// the window are dropped without a warning.
	DefaultDebounce = 2500 * time.Millisecond
	// DefaultRepairCooldown is the minimum gap between executed repairs.
	DefaultRepairCooldown = 5 * time.Minute
)

// Rejection explains why a request was not accepted. It is a normal
// outcome, not an error: the caller surfaces Reason as a warning unless
// Silent is set.
type Rejection struct {
	Reason string
	// Busy is set when another operation holds the guard.
	Busy bool
	// Remaining is set for cooldown rejections.
	Remaining time.Duration
	// Silent marks debounce drops, which produce no user feedback.
	Silent bool
}

// Guard is the process-wide operation state machine. At most one of
// update/repair is active at a time; play always passes but carries a
// warning while something else runs.
type Guard struct {
	debounce time.Duration
	cooldown time.Duration
	now      func() time.Time

	mu         sync.Mutex
	state      State
	lastClick  map[Operation]time.Time
	lastRepair time.Time
}

// New creates a guard. Zero durations fall back to the defaults.
func New(debounce, repairCooldown time.Duration) *Guard {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if repairCooldown <= 0 {
		repairCooldown = DefaultRepairCooldown
	}
	return &Guard{
		debounce:  debounce,
		cooldown:  repairCooldown,
		now:       time.Now,
		lastClick: make(map[Operation]time.Time),
	}
}

// Request asks to start op. A nil Rejection means the request was
// accepted; update and repair then hold the guard until Finish. An
// accepted play changes no state but still returns a warning Rejection
// with Busy set when another operation is running, which the caller
// shows without blocking the launch.
//
// Checks run debounce first, so a rapid re-click during a busy state or
// cooldown stays silent instead of stacking warnings.
func (g *Guard) Request(op Operation) *Rejection {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if last, ok := g.lastClick[op]; ok && now.Sub(last) < g.debounce {
		return &Rejection{Silent: true, Reason: "ignored repeated click"}
	}
	g.lastClick[op] = now

	if op == OpPlay {
		if g.state != Idle {
			return &Rejection{
				Reason: fmt.Sprintf("an %s is in progress, the game may not be up to date", g.state),
			}
		}
		return nil
	}

	if g.state != Idle {
		return &Rejection{
			Busy:   true,
			Reason: fmt.Sprintf("cannot start %s while an %s is in progress", op, g.state),
		}
	}

	if op == OpRepair {
		if remaining := g.cooldownRemainingLocked(now); remaining > 0 {
			return &Rejection{
				Remaining: remaining,
				Reason: fmt.Sprintf("repair available again in %s",
					remaining.Round(time.Second)),
			}
		}
		g.state = Repairing
		g.lastRepair = now
		return nil
	}

	g.state = Updating
	return nil
}

// Finish releases the guard after an accepted update or repair, on
// success and failure alike.
func (g *Guard) Finish() {
	g.mu.Lock()
	g.state = Idle
	g.mu.Unlock()
}

// Active returns the current state.
func (g *Guard) Active() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Guard) cooldownRemainingLocked(now time.Time) time.Duration {
	if g.lastRepair.IsZero() {
		return 0
	}
	remaining := g.cooldown - now.Sub(g.lastRepair)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// CooldownRemaining reports how long until repair may run again.
func (g *Guard) CooldownRemaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldownRemainingLocked(g.now())
}

// CooldownFraction reports elapsed cooldown as 0..1, for controls that
// render a filling indicator. 1 means repair is available.
func (g *Guard) CooldownFraction() float64 {
	remaining := g.CooldownRemaining()
	if remaining <= 0 {
		return 1
	}
	return 1 - float64(remaining)/float64(g.cooldown)
}
