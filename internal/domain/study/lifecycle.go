package study

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gynlab/gynlab/internal/platform/apperr"
)

// checkAdvance returns the first precondition target fails on s. The order
// of the checks decides which message the operator sees.
func checkAdvance(s *Study, target State) error {
	if target == StateOrdered {
		return apperr.Validation("the ordered state is set when the study is created and cannot be changed")
	}
	if !target.Valid() {
		return apperr.InvalidField("state", "unknown state %q", target)
	}
	if !s.Marked(target) {
		for _, later := range target.Later() {
			if s.Marked(later) {
				return apperr.Validation("inconsistent data: %s is marked but %s is not; correct from the last valid state", later, target)
			}
		}
	}
	if s.Marked(target) {
		return apperr.Validation("study is already %s", target)
	}
	prev, _ := target.Predecessor()
	if !s.Marked(prev) {
		return apperr.Validation("mark %s before %s", prev, target)
	}
	if target.RequiresCenter() && s.CenterID == nil {
		return apperr.InvalidField("center", "assign a histology center before marking %s", target)
	}
	return nil
}

// advance marks target at now. checkAdvance must have passed.
func advance(s *Study, target State, now time.Time) {
	t := now
	s.setTimestamp(target, &t)
	s.State = target
	s.UpdatedAt = now
	s.Overridden = !Consistent(s)
}

// retract clears state and every later state. The cleared range is reported
// whole, marked or not. Retracting at or before received drops the result.
func retract(s *Study, state State, now time.Time) (State, []State) {
	cleared := append([]State{state}, state.Later()...)
	for _, st := range cleared {
		s.setTimestamp(st, nil)
	}
	if state.AtOrBefore(StateReceived) {
		s.Result = nil
		s.ResultEditedAt = nil
	}

	next := StateOrdered
	for i := state.Index() - 1; i > 0; i-- {
		if s.Marked(States[i]) {
			next = States[i]
			break
		}
	}
	s.State = next
	s.UpdatedAt = now
	s.Overridden = !Consistent(s)
	return next, cleared
}

// override forces the current state. An existing timestamp for target is kept.
func override(s *Study, target State, now time.Time) {
	if !s.Marked(target) {
		t := now
		s.setTimestamp(target, &t)
	}
	s.State = target
	s.UpdatedAt = now
	s.Overridden = true
}

// normalizeResult trims text and enforces the length limit. An empty result
// is returned as nil.
func normalizeResult(text string) (*string, error) {
	txt := strings.TrimSpace(text)
	if n := utf8.RuneCountInString(txt); n > MaxResultLength {
		return nil, apperr.InvalidField("result", "must not exceed %d characters (got %d)", MaxResultLength, n)
	}
	if txt == "" {
		return nil, nil
	}
	return &txt, nil
}

// contiguousState is the highest state of the unbroken timestamp prefix
// starting at ordered.
func contiguousState(s *Study) State {
	last := StateOrdered
	for _, st := range States[1:] {
		if !s.Marked(st) {
			break
		}
		last = st
	}
	return last
}

// Violations lists the lifecycle invariants s breaks.
func Violations(s *Study) []string {
	var out []string

	gap := State("")
	for _, st := range States[1:] {
		if !s.Marked(st) {
			if gap == "" {
				gap = st
			}
			continue
		}
		if gap != "" {
			out = append(out, fmt.Sprintf("%s is marked but %s is not", st, gap))
		}
	}

	if want := contiguousState(s); s.State != want {
		out = append(out, fmt.Sprintf("current state is %s but timestamps say %s", s.State, want))
	}

	if s.CenterID == nil {
		for _, st := range States[1:] {
			if s.Marked(st) || s.State == st {
				out = append(out, fmt.Sprintf("%s without a histology center", st))
				break
			}
		}
	}

	if s.HasResult() && !s.State.AcceptsResult() {
		out = append(out, fmt.Sprintf("result recorded while %s", s.State))
	}
	return out
}

// Consistent reports whether s satisfies every lifecycle invariant.
func Consistent(s *Study) bool {
	return len(Violations(s)) == 0
}
