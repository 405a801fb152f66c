// Package engine implements sergio's abstract "container engine" client
// contract (spec §6) against a real containerd daemon. It is the one
// package that talks to a running engine; every other package depends
// only on the Engine interface below.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// DefaultNamespace is the containerd namespace sergio-managed containers
// live in.
const DefaultNamespace = "sergio"

// DefaultSocketPath is the default containerd socket location.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// Status is a container's coarse lifecycle state.
type Status string

const (
	StatusMissing Status = "missing"
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// Mount describes a host-to-guest bind mount (from a container
// definition's mountpoints:, spec §3).
type Mount struct {
	Source string
	Target string
}

// Address is one resolved network address on a device.
type Address struct {
	Family  string // "inet" or "inet6"
	Address string
}

// Engine is the abstract container-engine contract spec §6 describes:
// existence checks, image launch, lifecycle control, network state,
// in-container file access, and command execution. pkg/orchestrator
// depends only on this interface (pkg/nat reaches NetworkAddresses
// through the orchestrator's adapter to its own AddressResolver);
// *Client is its containerd implementation.
type Engine interface {
	Exists(ctx context.Context, id string) (bool, error)
	Launch(ctx context.Context, id, image string, mounts []Mount) error
	Status(ctx context.Context, id string) (Status, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Delete(ctx context.Context, id string) error
	NetworkAddresses(ctx context.Context, id, device string) ([]Address, error)

	Execute(ctx context.Context, id, user, shell, command string) (exitCode int, err error)
	FileGet(ctx context.Context, id, path string) ([]byte, error)
	FilePut(ctx context.Context, id, path string, data []byte, mode int) error
	FileDelete(ctx context.Context, id, path string) error
	Interactive(ctx context.Context, id, user, shell string) error
}

// Client implements Engine against a containerd daemon, grounded on
// warren's pkg/runtime/containerd.go.
type Client struct {
	client    *containerd.Client
	namespace string

	// Stdout and Stderr are where Execute forwards in-container output
	// (the CLI's "-o actions"/"both" routing, spec §6). They default to
	// io.Discard so a caller that never sets them gets the old
	// capture-nothing behavior.
	Stdout io.Writer
	Stderr io.Writer
}

// NewClient connects to a containerd daemon over socketPath (the
// default when empty).
func NewClient(socketPath string) (*Client, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	cl, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd at %s: %w", socketPath, err)
	}
	return &Client{client: cl, namespace: DefaultNamespace, Stdout: io.Discard, Stderr: io.Discard}, nil
}

// Close closes the underlying containerd client connection.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Client) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, c.namespace)
}

// Exists reports whether a container named id has been created.
func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	_, err := c.client.LoadContainer(c.ctx(ctx), id)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Launch pulls image (if not already present) and creates a container
// named id with the given bind mounts.
func (c *Client) Launch(ctx context.Context, id, image string, mounts []Mount) error {
	nsCtx := c.ctx(ctx)

	img, err := c.client.GetImage(nsCtx, image)
	if err != nil {
		img, err = c.client.Pull(nsCtx, image, containerd.WithPullUnpack)
		if err != nil {
			return fmt.Errorf("pulling image %s: %w", image, err)
		}
	}

	opts := []oci.SpecOpts{oci.WithImageConfig(img)}

	if len(mounts) > 0 {
		specMounts := make([]specs.Mount, 0, len(mounts))
		for _, m := range mounts {
			specMounts = append(specMounts, specs.Mount{
				Source:      m.Source,
				Destination: m.Target,
				Type:        "bind",
				Options:     []string{"rbind"},
			})
		}
		opts = append(opts, oci.WithMounts(specMounts))
	}

	_, err = c.client.NewContainer(
		nsCtx,
		id,
		containerd.WithImage(img),
		containerd.WithNewSnapshot(id+"-snapshot", img),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("creating container %s: %w", id, err)
	}
	return nil
}

// Status reports a container's coarse lifecycle state.
func (c *Client) Status(ctx context.Context, id string) (Status, error) {
	nsCtx := c.ctx(ctx)

	container, err := c.client.LoadContainer(nsCtx, id)
	if err != nil {
		return StatusMissing, nil
	}

	task, err := container.Task(nsCtx, nil)
	if err != nil {
		return StatusStopped, nil
	}

	status, err := task.Status(nsCtx)
	if err != nil {
		return StatusStopped, fmt.Errorf("reading task status for %s: %w", id, err)
	}
	if status.Status == containerd.Running || status.Status == containerd.Paused {
		return StatusRunning, nil
	}
	return StatusStopped, nil
}

// Start creates and starts id's task, blocking until it reports running.
func (c *Client) Start(ctx context.Context, id string) error {
	nsCtx := c.ctx(ctx)

	container, err := c.client.LoadContainer(nsCtx, id)
	if err != nil {
		return fmt.Errorf("loading container %s: %w", id, err)
	}

	task, err := container.NewTask(nsCtx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("creating task for %s: %w", id, err)
	}
	if err := task.Start(nsCtx); err != nil {
		return fmt.Errorf("starting task for %s: %w", id, err)
	}
	return nil
}

// Stop sends SIGTERM to id's task, escalating to SIGKILL after timeout,
// and blocks until it exits.
func (c *Client) Stop(ctx context.Context, id string, timeout time.Duration) error {
	nsCtx := c.ctx(ctx)

	container, err := c.client.LoadContainer(nsCtx, id)
	if err != nil {
		return fmt.Errorf("loading container %s: %w", id, err)
	}

	task, err := container.Task(nsCtx, nil)
	if err != nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(nsCtx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to %s: %w", id, err)
	}

	statusC, err := task.Wait(nsCtx)
	if err != nil {
		return fmt.Errorf("waiting on task for %s: %w", id, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(nsCtx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("sending SIGKILL to %s: %w", id, err)
		}
		<-statusC
	}

	if _, err := task.Delete(nsCtx); err != nil {
		return fmt.Errorf("deleting task for %s: %w", id, err)
	}
	return nil
}

// Delete removes id's container and snapshot, stopping it first if
// still running.
func (c *Client) Delete(ctx context.Context, id string) error {
	nsCtx := c.ctx(ctx)

	container, err := c.client.LoadContainer(nsCtx, id)
	if err != nil {
		return nil
	}

	if status, _ := c.Status(ctx, id); status == StatusRunning {
		if err := c.Stop(ctx, id, 10*time.Second); err != nil {
			return fmt.Errorf("stopping %s before delete: %w", id, err)
		}
	}

	if err := container.Delete(nsCtx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("deleting container %s: %w", id, err)
	}
	return nil
}

// NetworkAddresses resolves id's addresses on device by entering its
// network namespace and inspecting the interface, grounded on warren's
// GetContainerIP (generalized here from a hardcoded eth0/IPv4 lookup to
// an arbitrary device and address family).
func (c *Client) NetworkAddresses(ctx context.Context, id, device string) ([]Address, error) {
	nsCtx := c.ctx(ctx)

	container, err := c.client.LoadContainer(nsCtx, id)
	if err != nil {
		return nil, fmt.Errorf("loading container %s: %w", id, err)
	}
	task, err := container.Task(nsCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("container %s has no running task: %w", id, err)
	}
	pid := task.Pid()
	if pid == 0 {
		return nil, fmt.Errorf("container %s task has no pid", id)
	}

	var addrs []Address
	for _, family := range []struct {
		flag   string
		family string
	}{{"-4", "inet"}, {"-6", "inet6"}} {
		cmd := exec.CommandContext(ctx, "nsenter", "-t", fmt.Sprintf("%d", pid), "-n",
			"ip", family.flag, "addr", "show", device)
		out, err := cmd.CombinedOutput()
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(out), "\n") {
			line = strings.TrimSpace(line)
			if !strings.HasPrefix(line, "inet") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			ip, _, err := net.ParseCIDR(fields[1])
			if err != nil {
				continue
			}
			addrs = append(addrs, Address{Family: family.family, Address: ip.String()})
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no addresses found on device %s", device)
	}
	return addrs, nil
}

// shellCommand returns the argv sergio uses to run command as user
// through shell inside a container.
func shellCommand(user, shell, command string) []string {
	return []string{"sudo", "-n", "-u", user, shell, "-c", command}
}

// Execute runs command inside id's task as user via shell, forwarding
// its stdout/stderr to c.Stdout/c.Stderr (used by action item dispatch,
// the CLI's "-o actions"/"both" routing).
func (c *Client) Execute(ctx context.Context, id, user, shell, command string) (int, error) {
	stdout, stderr := c.Stdout, c.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	return c.runOneOff(ctx, id, shellCommand(user, shell, command), nil, stdout, stderr)
}

// FileGet reads a file from inside id by piping `cat` through exec.
func (c *Client) FileGet(ctx context.Context, id, path string) ([]byte, error) {
	var out bytes.Buffer
	code, err := c.runOneOff(ctx, id, []string{"cat", path}, nil, &out, io.Discard)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("reading %s from %s: cat exited %d", path, id, code)
	}
	return out.Bytes(), nil
}

// FilePut writes data to path inside id by piping it into
// `sh -c "cat > path"`, then chmods it to mode.
func (c *Client) FilePut(ctx context.Context, id, path string, data []byte, mode int) error {
	code, err := c.runOneOff(ctx, id, []string{"sh", "-c", fmt.Sprintf("cat > %s", path)}, bytes.NewReader(data), io.Discard, io.Discard)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("writing %s to %s: write exited %d", path, id, code)
	}
	_, err = c.runOneOff(ctx, id, []string{"chmod", fmt.Sprintf("%o", mode), path}, nil, io.Discard, io.Discard)
	return err
}

// FileDelete removes path inside id.
func (c *Client) FileDelete(ctx context.Context, id, path string) error {
	code, err := c.runOneOff(ctx, id, []string{"rm", "-f", path}, nil, io.Discard, io.Discard)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("removing %s from %s: rm exited %d", path, id, code)
	}
	return nil
}

// Interactive attaches the caller's own stdio to an interactive login
// shell inside id, used by the login verb (spec §4.6).
func (c *Client) Interactive(ctx context.Context, id, user, shell string) error {
	_, err := c.runOneOff(ctx, id, []string{"sudo", "-n", "--login", "--user", user, shell}, nil, nil, nil)
	return err
}
