// Package model defines the on-disk container definition shape and the
// merged in-memory container that the registry produces by flattening
// inheritance (spec §3).
package model

import "github.com/benkle-apps/sergio/pkg/action"

// Port describes a published port forward.
type Port struct {
	Device   string
	Protocol string
	From     int
	To       int
	Comment  string
}

// Mountpoint describes a host-to-guest bind mount.
type Mountpoint struct {
	Source string
	Path   string
}

// Definition is the parsed shape of a single container YAML document's
// "container:" mapping, before inheritance is flattened.
type Definition struct {
	ID          string
	Name        string
	Description string
	Box         string
	Shell       string
	User        string
	Extends     string
	Requires    []string
	Variables   map[string]string
	Files       action.Files
	Mountpoints map[string]Mountpoint
	Ports       []Port
	Actions     map[string]action.Frame
}

const (
	defaultShell = "/bin/sh"
	defaultUser  = "root"
)

// Container is the merged, in-memory representation used for the rest
// of an invocation: defaults applied, extends flattened, per-invocation
// transient state (workdir, ip cache) attached.
//
// A Container lives for the duration of one CLI invocation (spec §3
// "Lifecycles") — it is never persisted and never shared across runs.
type Container struct {
	ID          string
	Name        string
	Description string
	Box         string
	Shell       string
	User        string
	Requires    []string
	Variables   map[string]string
	Files       map[string]action.FileContent
	Mountpoints []Mountpoint
	Ports       []Port
	Actions     map[string]action.Stack

	// Workdir is mutated only by a workdir-set action item and applies
	// to subsequent shell items for the rest of this invocation.
	Workdir string

	// ipCache caches resolved addresses by "device:protocol", populated
	// lazily and never invalidated within an invocation.
	ipCache map[string]string
}

// NewFromDefinition builds a root Container (no parent) from a
// Definition, applying field defaults.
func NewFromDefinition(d *Definition) *Container {
	box := d.Box
	shell := d.Shell
	if shell == "" {
		shell = defaultShell
	}
	user := d.User
	if user == "" {
		user = defaultUser
	}

	vars := make(map[string]string, len(d.Variables)+2)
	for k, v := range d.Variables {
		vars[k] = v
	}
	vars["_name"] = d.Name
	vars["_description"] = d.Description

	files := make(map[string]action.FileContent, len(d.Files))
	for k, v := range d.Files {
		files[k] = v
	}

	actions := make(map[string]action.Stack, len(d.Actions))
	for k, v := range d.Actions {
		actions[k] = action.NewStack(v)
	}

	mounts := make([]Mountpoint, 0, len(d.Mountpoints))
	for _, m := range d.Mountpoints {
		mounts = append(mounts, m)
	}

	requires := append([]string(nil), d.Requires...)

	return &Container{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Box:         box,
		Shell:       shell,
		User:        user,
		Requires:    requires,
		Variables:   vars,
		Files:       files,
		Mountpoints: mounts,
		Ports:       append([]Port(nil), d.Ports...),
		Actions:     actions,
	}
}

// MergeChild flattens a child Definition on top of an already-built
// parent Container, implementing spec §3's merge rules:
//
//   - box/shell/user: child overrides parent; defaults only apply when
//     neither side defines a value.
//   - requires: child entries first, then parent's (resolver dedupes).
//   - variables/files: key-wise merge, child wins. _name/_description
//     are re-bound to the child's own name/description.
//   - actions: for a name defined on both sides, the merged stack is
//     parent frames followed by child frames (action.Stack.Compose);
//     otherwise whichever side defines it.
func MergeChild(parent *Container, child *Definition) *Container {
	box := child.Box
	if box == "" {
		box = parent.Box
	}
	shell := child.Shell
	if shell == "" {
		shell = parent.Shell
	}
	user := child.User
	if user == "" {
		user = parent.User
	}

	vars := make(map[string]string, len(parent.Variables)+len(child.Variables)+2)
	for k, v := range parent.Variables {
		vars[k] = v
	}
	for k, v := range child.Variables {
		vars[k] = v
	}
	vars["_name"] = child.Name
	vars["_description"] = child.Description

	files := make(map[string]action.FileContent, len(parent.Files)+len(child.Files))
	for k, v := range parent.Files {
		files[k] = v
	}
	for k, v := range child.Files {
		files[k] = v
	}

	actions := make(map[string]action.Stack, len(parent.Actions)+len(child.Actions))
	for name, stack := range parent.Actions {
		actions[name] = stack
	}
	for name, childFrame := range child.Actions {
		childStack := action.NewStack(childFrame)
		if parentStack, ok := parent.Actions[name]; ok {
			actions[name] = parentStack.Compose(childStack)
		} else {
			actions[name] = childStack
		}
	}

	requires := make([]string, 0, len(child.Requires)+len(parent.Requires))
	requires = append(requires, child.Requires...)
	requires = append(requires, parent.Requires...)

	mounts := make([]Mountpoint, 0, len(parent.Mountpoints)+len(child.Mountpoints))
	mounts = append(mounts, parent.Mountpoints...)
	for _, m := range child.Mountpoints {
		mounts = append(mounts, m)
	}

	ports := append(append([]Port(nil), parent.Ports...), child.Ports...)

	return &Container{
		ID:          child.ID,
		Name:        child.Name,
		Description: child.Description,
		Box:         box,
		Shell:       shell,
		User:        user,
		Requires:    requires,
		Variables:   vars,
		Files:       files,
		Mountpoints: mounts,
		Ports:       ports,
		Actions:     actions,
	}
}

// SetWorkdir records a transient cd-prefix applied to subsequent shell
// items for the rest of this invocation.
func (c *Container) SetWorkdir(path string) { c.Workdir = path }

// The methods below satisfy action.ContainerView, the narrow view the
// action-stack executor needs of a running container.

func (c *Container) ContainerID() string    { return c.ID }
func (c *Container) ContainerShell() string { return c.Shell }
func (c *Container) ContainerUser() string  { return c.User }
func (c *Container) Vars() map[string]string { return c.Variables }
func (c *Container) GetWorkdir() string     { return c.Workdir }

func (c *Container) LookupFile(name string) (action.FileContent, bool) {
	fc, ok := c.Files[name]
	return fc, ok
}

// CachedIP returns a previously resolved address for device:protocol
// and whether it was present.
func (c *Container) CachedIP(device, protocol string) (string, bool) {
	if c.ipCache == nil {
		return "", false
	}
	ip, ok := c.ipCache[device+":"+protocol]
	return ip, ok
}

// CacheIP stores a resolved address for device:protocol.
func (c *Container) CacheIP(device, protocol, ip string) {
	if c.ipCache == nil {
		c.ipCache = make(map[string]string)
	}
	c.ipCache[device+":"+protocol] = ip
}
