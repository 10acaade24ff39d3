package channel

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
)

// ID identifies one radio channel in the hopping plan.
type ID int

// ErrPlanTooSmall is returned when a hopping plan cannot support switching
// because it holds fewer than two distinct channels.
var ErrPlanTooSmall = errors.New("channel: plan needs at least two distinct channels")

// Plan is the fixed set of channels the link may occupy. It is defined at
// startup and never mutated afterwards.
type Plan []ID

// DefaultPlan returns the reference five-channel hopping plan.
func DefaultPlan() Plan {
	return Plan{1, 2, 3, 4, 5}
}

// Validate rejects plans with duplicate channels or fewer than two members.
func (p Plan) Validate() error {
	seen := make(map[ID]struct{}, len(p))
	for _, id := range p {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("channel: duplicate channel %d in plan", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) < 2 {
		return ErrPlanTooSmall
	}
	return nil
}

// State tracks the channel currently in use. One coordinator owns all
// mutations; lookups may come from other goroutines, so access is
// mutex-guarded.
type State struct {
	plan Plan
	rng  *rand.Rand

	mu      sync.Mutex
	current int // Index into plan
}

// NewState validates the plan and starts on a uniformly random channel.
func NewState(plan Plan, rng *rand.Rand) (*State, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("channel: nil random source")
	}

	s := &State{
		plan: append(Plan(nil), plan...),
		rng:  rng,
	}
	s.current = rng.IntN(len(s.plan))
	return s, nil
}

// Plan returns a copy of the hopping plan.
func (s *State) Plan() Plan {
	return append(Plan(nil), s.plan...)
}

// Current returns the channel in use.
func (s *State) Current() ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan[s.current]
}

// SwitchAway reactively moves off the current channel, uniformly selecting
// any other channel from the plan. The returned channel never equals the one
// in use before the call.
func (s *State) SwitchAway() ID {
	return s.pickOther()
}

// Hop performs the scheduled frequency hop. It shares SwitchAway's contract
// (uniform over the plan minus the current channel) but represents a
// baseline move rather than a reaction to a detection.
func (s *State) Hop() ID {
	return s.pickOther()
}

// pickOther draws uniformly from the plan with the current slot excluded:
// an index over len-1 slots, shifted past the current one.
func (s *State) pickOther() ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.rng.IntN(len(s.plan) - 1)
	if next >= s.current {
		next++
	}
	s.current = next
	return s.plan[s.current]
}
