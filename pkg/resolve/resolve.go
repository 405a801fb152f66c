// Package resolve computes the launch order a container's transitive
// requirements must be realized in (spec §4.3).
package resolve

import (
	"fmt"

	"github.com/benkle-apps/sergio/pkg/sergioerr"
)

// Lookup returns the direct requires list for id, or ok=false if id is
// not a known definition.
type Lookup func(id string) (requires []string, ok bool, err error)

// Order returns the target's transitive prerequisites (excluding the
// target itself) in an order such that every id appears after all of
// its own requires, per spec §4.3:
//
//  1. Seed a pending set from the target's direct requires.
//  2. Expand: for every id currently in pending whose own requires
//     haven't been loaded yet, load them and add any newly-seen ids to
//     pending, repeating until no new ids appear.
//  3. Emit: repeatedly pick (in first-seen order) any pending id whose
//     own requires are all already emitted, until nothing more can be
//     emitted. If pending entries remain, the requirements are
//     unresolvable (a cycle).
func Order(targetID string, targetRequires []string, lookup Lookup) ([]string, error) {
	type entry struct {
		requires []string
	}

	pending := make(map[string]*entry)
	order := make([]string, 0, len(targetRequires))

	seed := func(id string) error {
		if id == targetID {
			return nil
		}
		if _, ok := pending[id]; ok {
			return nil
		}
		requires, ok, err := lookup(id)
		if err != nil {
			return err
		}
		if !ok {
			return sergioerr.New(sergioerr.DefinitionNotFound, targetID,
				fmt.Sprintf("required definition %q not found", id))
		}
		pending[id] = &entry{requires: requires}
		order = append(order, id)
		return nil
	}

	for _, id := range targetRequires {
		if err := seed(id); err != nil {
			return nil, err
		}
	}

	// Expansion loop: stabilize until no new id is discovered through
	// any pending entry's own requires.
	for {
		discovered := false
		for _, id := range order {
			for _, req := range pending[id].requires {
				if req == targetID {
					// The target is never itself seeded into pending;
					// nothing further to discover through it here. The
					// emission loop below is what actually decides
					// whether this makes id unresolvable.
					continue
				}
				if _, ok := pending[req]; ok {
					continue
				}
				if err := seed(req); err != nil {
					return nil, err
				}
				discovered = true
			}
		}
		if !discovered {
			break
		}
	}

	// Emission loop: deterministic by the order ids were first seen.
	emitted := make(map[string]bool, len(pending))
	result := make([]string, 0, len(pending))
	for len(emitted) < len(pending) {
		progressed := false
		for _, id := range order {
			if emitted[id] {
				continue
			}
			ready := true
			for _, req := range pending[id].requires {
				if req == targetID {
					// id requires the target itself, which in turn
					// (transitively) requires id — a genuine cycle
					// through the target, not an already-satisfied
					// dependency. Never mark id ready on this basis;
					// let the no-progress check below report it.
					ready = false
					break
				}
				if !emitted[req] {
					ready = false
					break
				}
			}
			if ready {
				emitted[id] = true
				result = append(result, id)
				progressed = true
			}
		}
		if !progressed {
			return nil, sergioerr.New(sergioerr.UnresolvableRequirements, targetID,
				"requirements form a cycle or cannot be fully resolved")
		}
	}

	return result, nil
}
