package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/containerd/containerd/cio"
)

var execCounter uint64

func nextExecID(id string) string {
	n := atomic.AddUint64(&execCounter, 1)
	return fmt.Sprintf("%s-exec-%d", id, n)
}

// runOneOff execs argv inside id's running task, wiring stdin/stdout/
// stderr (any of which may be nil, meaning "the caller's own", used by
// Interactive) and returns its exit code.
func (c *Client) runOneOff(ctx context.Context, id string, argv []string, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	nsCtx := c.ctx(ctx)

	container, err := c.client.LoadContainer(nsCtx, id)
	if err != nil {
		return -1, fmt.Errorf("loading container %s: %w", id, err)
	}

	task, err := container.Task(nsCtx, nil)
	if err != nil {
		return -1, fmt.Errorf("container %s has no running task: %w", id, err)
	}

	spec, err := container.Spec(nsCtx)
	if err != nil {
		return -1, fmt.Errorf("reading oci spec for %s: %w", id, err)
	}
	pspec := *spec.Process
	pspec.Args = argv
	pspec.Terminal = false

	if stdin == nil {
		stdin = os.Stdin
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	process, err := task.Exec(nsCtx, nextExecID(id), &pspec, cio.NewCreator(cio.WithStreams(stdin, stdout, stderr)))
	if err != nil {
		return -1, fmt.Errorf("exec in %s: %w", id, err)
	}
	defer process.Delete(nsCtx)

	statusC, err := process.Wait(nsCtx)
	if err != nil {
		return -1, fmt.Errorf("waiting on exec in %s: %w", id, err)
	}

	if err := process.Start(nsCtx); err != nil {
		return -1, fmt.Errorf("starting exec in %s: %w", id, err)
	}

	status := <-statusC
	return int(status.ExitCode()), status.Error()
}
