// Package orchestrator implements sergio's lifecycle verbs — create,
// start, stop, destroy, nat, denat, login, backup, restore, download,
// upload, and arbitrary named actions — against a registry of merged
// container definitions and a container engine (spec §4.6).
package orchestrator

import (
	"context"
	"time"

	"github.com/benkle-apps/sergio/pkg/action"
	"github.com/benkle-apps/sergio/pkg/engine"
	"github.com/benkle-apps/sergio/pkg/log"
	"github.com/benkle-apps/sergio/pkg/model"
	"github.com/benkle-apps/sergio/pkg/nat"
	"github.com/benkle-apps/sergio/pkg/registry"
	"github.com/benkle-apps/sergio/pkg/resolve"
	"github.com/rs/zerolog"
)

// quiescenceDelay is the fixed pause after launch/start that lets DHCP
// settle before NAT rules are applied (spec §4.6 "create"/"start").
const quiescenceDelay = 5 * time.Second

// stopTimeout bounds how long Stop waits for a graceful shutdown before
// the engine escalates to SIGKILL.
const stopTimeout = 10 * time.Second

// Orchestrator wires a definition registry, a container engine, and NAT
// management together to implement the lifecycle verbs.
type Orchestrator struct {
	Registry *registry.Registry
	Engine   engine.Engine
	NAT      *nat.Manager

	// SearchDirs are tried in order when resolving a file-drop LoadRef:
	// cwd, the root config's directory, then the definitions directory
	// (spec §3 "Load-reference resolution").
	SearchDirs []string

	// GlobalVars are the root config's variables, the lowest-precedence
	// template scope (spec §4.2).
	GlobalVars map[string]string
}

// New builds an Orchestrator. eng is wrapped for nat.Manager's address
// resolution, which uses its own Address type to avoid importing
// pkg/engine into pkg/nat.
func New(reg *registry.Registry, eng engine.Engine, searchDirs []string, globalVars map[string]string) *Orchestrator {
	return &Orchestrator{
		Registry:   reg,
		Engine:     eng,
		NAT:        nat.NewManager(addressResolverAdapter{eng}),
		SearchDirs: searchDirs,
		GlobalVars: globalVars,
	}
}

// addressResolverAdapter adapts engine.Engine to nat.AddressResolver.
type addressResolverAdapter struct {
	eng engine.Engine
}

func (a addressResolverAdapter) NetworkAddresses(ctx context.Context, id, device string) ([]nat.Address, error) {
	addrs, err := a.eng.NetworkAddresses(ctx, id, device)
	if err != nil {
		return nil, err
	}
	out := make([]nat.Address, len(addrs))
	for i, addr := range addrs {
		out[i] = nat.Address{Family: addr.Family, Address: addr.Address}
	}
	return out, nil
}

func (o *Orchestrator) logger(id string) zerolog.Logger {
	return log.WithContainer(id)
}

func (o *Orchestrator) isRunning(ctx context.Context, id string) (bool, error) {
	status, err := o.Engine.Status(ctx, id)
	if err != nil {
		return false, err
	}
	return status == engine.StatusRunning, nil
}

func (o *Orchestrator) exists(ctx context.Context, id string) (bool, error) {
	return o.Engine.Exists(ctx, id)
}

// execContext builds an action.ExecContext for running c's own action
// stacks against this orchestrator's engine and registry.
func (o *Orchestrator) execContext(c *model.Container, params map[string]string) *action.ExecContext {
	return &action.ExecContext{
		Container:  c,
		Engine:     o.Engine,
		Dispatcher: o.Registry,
		GlobalVars: o.GlobalVars,
		Params:     params,
		SearchDirs: o.SearchDirs,
	}
}

// runActionIfPresent runs c's action named name with params if defined,
// and is a no-op otherwise (spec §7: "missing optional action ... is
// log+no-op, not an error").
func (o *Orchestrator) runActionIfPresent(ctx context.Context, c *model.Container, name string, params map[string]string) error {
	stack, ok := c.Actions[name]
	if !ok {
		o.logger(c.ID).Debug().Str("action", name).Msg("action not defined, skipping")
		return nil
	}
	o.logger(c.ID).Info().Str("action", name).Msg("running action")
	return stack.Execute(ctx, o.execContext(c, params))
}

// launchOrder resolves c's transitive prerequisites via pkg/resolve,
// looking each one up through the registry.
func (o *Orchestrator) launchOrder(c *model.Container) ([]string, error) {
	lookup := func(id string) ([]string, bool, error) {
		if !o.Registry.Has(id) {
			return nil, false, nil
		}
		dep, err := o.Registry.Get(id)
		if err != nil {
			return nil, false, err
		}
		return dep.Requires, true, nil
	}
	return resolve.Order(c.ID, c.Requires, lookup)
}

// dispatchRPC builds an ad-hoc RPC item targeting containerID/actionName
// with params and executes it against the target directly — the path
// the CLI uses for arbitrary named-action verbs and "exec" (spec §4.6
// "exec/unknown verbs").
func (o *Orchestrator) dispatchRPC(ctx context.Context, containerID, actionName string, params map[string]string) error {
	c, err := o.Registry.Get(containerID)
	if err != nil {
		return err
	}
	stack := action.NewStack(action.Frame{{
		Kind: action.KindRPC,
		RPC:  &action.RPCItem{Target: containerID, Action: actionName, Parameters: params},
	}})
	return stack.Execute(ctx, o.execContext(c, nil))
}
