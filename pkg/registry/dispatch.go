package registry

import "github.com/benkle-apps/sergio/pkg/action"

// ResolveContainer satisfies action.Dispatcher: it loads (and merges)
// the container for id, the way an RPC or file-transfer item's target
// reference is resolved.
func (r *Registry) ResolveContainer(id string) (action.ContainerView, error) {
	return r.Get(id)
}

// ResolveAction satisfies action.Dispatcher: it loads id's container
// and looks up its action stack for actionName. ok is false when the
// container has no such action — spec §7 treats that as a no-op, not
// an error.
func (r *Registry) ResolveAction(id, actionName string) (action.ContainerView, action.Stack, bool, error) {
	c, err := r.Get(id)
	if err != nil {
		return nil, nil, false, err
	}
	stack, ok := c.Actions[actionName]
	return c, stack, ok, nil
}
