package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/benkle-apps/sergio/pkg/engine"
	"github.com/benkle-apps/sergio/pkg/model"
	"github.com/benkle-apps/sergio/pkg/sergioerr"
)

// Create realizes a container per spec §4.6 "create": it must not
// already exist; its launch-order prerequisites are checked (and,
// recursively, created or started when recursive is set); then the
// image is launched, mounts applied, a quiescence delay observed, NAT
// published, and the create/start actions run if present.
func (o *Orchestrator) Create(ctx context.Context, id string, recursive bool) error {
	c, err := o.Registry.Get(id)
	if err != nil {
		return err
	}

	if already, err := o.exists(ctx, id); err != nil {
		return err
	} else if already {
		return sergioerr.New(sergioerr.RequirementsNotMet, id, "container already exists")
	}

	if err := o.checkRequirements(ctx, c, recursive, recursive); err != nil {
		return err
	}

	o.logger(id).Info().Str("box", c.Box).Msg("launching container")

	mounts := make([]engine.Mount, 0, len(c.Mountpoints))
	for _, mp := range c.Mountpoints {
		mounts = append(mounts, engine.Mount{Source: mp.Source, Target: mp.Path})
	}
	if err := o.Engine.Launch(ctx, id, c.Box, mounts); err != nil {
		return sergioerr.Wrap(sergioerr.LaunchFailed, id, "launch", err)
	}
	if err := o.Engine.Start(ctx, id); err != nil {
		return sergioerr.Wrap(sergioerr.LaunchFailed, id, "start after launch", err)
	}

	time.Sleep(quiescenceDelay)

	if err := o.NAT.Apply(ctx, c); err != nil {
		return err
	}

	if err := o.runActionIfPresent(ctx, c, "create", nil); err != nil {
		return err
	}
	return o.runActionIfPresent(ctx, c, "start", nil)
}

// Start realizes spec §4.6 "start": a no-op if already running,
// otherwise the same prerequisite check as create (but never creating
// missing prerequisites, only optionally starting them), then engine
// start, quiescence, NAT, and the start action.
func (o *Orchestrator) Start(ctx context.Context, id string, recursive bool) error {
	c, err := o.Registry.Get(id)
	if err != nil {
		return err
	}

	running, err := o.isRunning(ctx, id)
	if err != nil {
		return err
	}
	if running {
		o.logger(id).Debug().Msg("already running")
		return nil
	}

	if err := o.checkRequirements(ctx, c, recursive, false); err != nil {
		return err
	}

	if err := o.Engine.Start(ctx, id); err != nil {
		return sergioerr.Wrap(sergioerr.LaunchFailed, id, "start", err)
	}

	time.Sleep(quiescenceDelay)

	if err := o.NAT.Apply(ctx, c); err != nil {
		return err
	}

	return o.runActionIfPresent(ctx, c, "start", nil)
}

// Stop realizes spec §4.6 "stop": if running, runs the stop action,
// tears down NAT, then stops the engine task, blocking until it exits.
func (o *Orchestrator) Stop(ctx context.Context, id string) error {
	c, err := o.Registry.Get(id)
	if err != nil {
		return err
	}

	running, err := o.isRunning(ctx, id)
	if err != nil {
		return err
	}
	if !running {
		o.logger(id).Debug().Msg("not running")
		return nil
	}

	if err := o.runActionIfPresent(ctx, c, "stop", nil); err != nil {
		return err
	}
	if err := o.NAT.Remove(ctx, c); err != nil {
		return err
	}
	return o.Engine.Stop(ctx, id, stopTimeout)
}

// Destroy realizes spec §4.6 "destroy": everything up to the final
// delete is best-effort — a failure at any earlier step is logged and
// swallowed so the delete is always attempted (spec §9 design note 5).
func (o *Orchestrator) Destroy(ctx context.Context, id string) error {
	c, err := o.Registry.Get(id)
	if err != nil {
		return err
	}

	running, err := o.isRunning(ctx, id)
	if err != nil {
		o.logSwallowed(id, "checking running state", err)
		running = false
	}

	_, hasDestroyAction := c.Actions["destroy"]
	if hasDestroyAction && !running {
		if err := o.Start(ctx, id, true); err != nil {
			o.logSwallowed(id, "starting before destroy action", err)
		} else {
			running = true
		}
	}

	if running {
		if err := o.runActionIfPresent(ctx, c, "stop", nil); err != nil {
			o.logSwallowed(id, "stop action before destroy", err)
		}
		if err := o.NAT.Remove(ctx, c); err != nil {
			o.logSwallowed(id, "denat before destroy", err)
		}
	}

	if err := o.runActionIfPresent(ctx, c, "destroy", nil); err != nil {
		o.logSwallowed(id, "destroy action", err)
	}

	return o.Engine.Delete(ctx, id)
}

// logSwallowed records an error Destroy, Backup and Restore deliberately
// tolerate, per spec §9 design note 5's recommendation to keep a
// structured trail of what was swallowed rather than discarding it
// silently.
func (o *Orchestrator) logSwallowed(id, step string, err error) {
	o.logger(id).Warn().Str("step", step).Err(err).Msg("swallowing error, continuing best-effort teardown")
}

// IsRunning reports whether id is currently running (spec §6 "running"
// verb), without requiring the definition to resolve — a container the
// engine knows about but the registry doesn't can still be queried.
func (o *Orchestrator) IsRunning(ctx context.Context, id string) (bool, error) {
	return o.isRunning(ctx, id)
}

// Nat publishes id's ports if it is running (spec §4.6 "nat").
func (o *Orchestrator) Nat(ctx context.Context, id string) error {
	c, err := o.Registry.Get(id)
	if err != nil {
		return err
	}
	running, err := o.isRunning(ctx, id)
	if err != nil {
		return err
	}
	if !running {
		return nil
	}
	return o.NAT.Apply(ctx, c)
}

// Denat un-publishes id's ports unconditionally (spec §4.6 "denat").
func (o *Orchestrator) Denat(ctx context.Context, id string) error {
	c, err := o.Registry.Get(id)
	if err != nil {
		return err
	}
	return o.NAT.Remove(ctx, c)
}

// Login realizes spec §4.6 "login": attaches an interactive shell if
// the container is running. A non-empty dir is recorded as the
// container's workdir; the interactive shell itself is not started in
// dir, since Engine.Interactive takes no working directory.
func (o *Orchestrator) Login(ctx context.Context, id, dir string) error {
	c, err := o.Registry.Get(id)
	if err != nil {
		return err
	}
	running, err := o.isRunning(ctx, id)
	if err != nil {
		return err
	}
	if !running {
		o.logger(id).Info().Msg("not running")
		return nil
	}
	if dir != "" {
		c.SetWorkdir(dir)
	}
	return o.Engine.Interactive(ctx, id, c.User, c.Shell)
}

// Download reads src out of id and returns its contents, spec §4.6
// "download". dst is not used here: the caller writes the returned
// bytes to dst on the host ("-" meaning stdout).
func (o *Orchestrator) Download(ctx context.Context, id, src, dst string) ([]byte, error) {
	data, err := o.Engine.FileGet(ctx, id, src)
	if err != nil {
		return nil, sergioerr.Wrap(sergioerr.FileNotFound, id, fmt.Sprintf("downloading %s", src), err)
	}
	return data, nil
}

// Upload copies data from the host into id at dst, then chowns it to
// the container's user, spec §4.6 "upload".
func (o *Orchestrator) Upload(ctx context.Context, id, dst string, data []byte) error {
	c, err := o.Registry.Get(id)
	if err != nil {
		return err
	}
	if err := o.Engine.FilePut(ctx, id, dst, data, 0644); err != nil {
		return sergioerr.Wrap(sergioerr.ExecutionFailed, id, fmt.Sprintf("uploading %s", dst), err)
	}
	owner := fmt.Sprintf("%s:%s", c.User, c.User)
	_, err = o.Engine.Execute(ctx, id, c.User, c.Shell, fmt.Sprintf("chown %s %s", owner, dst))
	return err
}

// Exec builds an ad-hoc RPC item from (id, verb, params) and dispatches
// it, the path the CLI uses for any verb that isn't one of the fixed
// lifecycle ones (spec §4.6 "exec/unknown verbs").
func (o *Orchestrator) Exec(ctx context.Context, id, actionName string, params map[string]string) error {
	return o.dispatchRPC(ctx, id, actionName, params)
}

// checkRequirements walks c's launch order and ensures each id is
// either created, started, or already running, per spec §4.6's
// create/start policy: canCreate implies canStart.
func (o *Orchestrator) checkRequirements(ctx context.Context, c *model.Container, canStart, canCreate bool) error {
	order, err := o.launchOrder(c)
	if err != nil {
		return err
	}

	for _, depID := range order {
		running, err := o.isRunning(ctx, depID)
		if err != nil {
			return err
		}
		if running {
			continue
		}

		depExists, err := o.exists(ctx, depID)
		if err != nil {
			return err
		}

		switch {
		case !depExists && canCreate:
			if err := o.Create(ctx, depID, true); err != nil {
				return err
			}
		case canStart:
			if err := o.Start(ctx, depID, true); err != nil {
				return err
			}
		default:
			return sergioerr.New(sergioerr.RequirementsNotMet, c.ID,
				fmt.Sprintf("prerequisite %q is not running and may not be started/created", depID))
		}
	}
	return nil
}
