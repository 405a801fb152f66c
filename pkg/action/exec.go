package action

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/benkle-apps/sergio/pkg/log"
	"github.com/benkle-apps/sergio/pkg/metrics"
	"github.com/benkle-apps/sergio/pkg/sergioerr"
	"github.com/benkle-apps/sergio/pkg/template"
)

// ContainerView is the narrow view of a running container the action
// executor needs. *model.Container implements it.
type ContainerView interface {
	ContainerID() string
	ContainerShell() string
	ContainerUser() string
	Vars() map[string]string
	GetWorkdir() string
	SetWorkdir(string)
	LookupFile(name string) (FileContent, bool)
}

// Engine is the narrow container-engine surface the executor needs.
// Engine implementations never see action types; this keeps pkg/engine
// free of a dependency on pkg/action.
type Engine interface {
	// Execute runs command as a single shell line inside containerID as
	// user, via shell, and reports the process's exit code.
	Execute(ctx context.Context, containerID, user, shell, command string) (exitCode int, err error)
	FileGet(ctx context.Context, containerID, path string) ([]byte, error)
	FilePut(ctx context.Context, containerID, path string, data []byte, mode int) error
	FileDelete(ctx context.Context, containerID, path string) error
}

// Dispatcher resolves an RPC target (a container id, with "self"
// already substituted by the caller) to its view and the action stack
// registered under actionName. ok is false when the container has no
// such action (spec §7: "action on non-existent name" is a no-op, not
// an error).
type Dispatcher interface {
	ResolveAction(id, actionName string) (ContainerView, Stack, bool, error)
	ResolveContainer(id string) (ContainerView, error)
}

// ExecContext carries everything a Stack.Execute call needs beyond the
// stack itself.
type ExecContext struct {
	Container  ContainerView
	Engine     Engine
	Dispatcher Dispatcher

	// GlobalVars are the root config's variables, the lowest-precedence
	// scope (spec §4.2's three-layer precedence).
	GlobalVars map[string]string

	// Params are the invocation-scoped variables — rpc_vars in spec
	// §4.2's three-layer precedence (cwd/overlay params for an RPC or
	// the CLI's own verb parameters).
	Params map[string]string

	// SearchDirs are tried in order (cwd, config dir, definitions dir)
	// when resolving a LoadRef (spec §3 "Load-reference resolution").
	SearchDirs []string
}

func (ec *ExecContext) expand(text string) string {
	return template.Apply(text, ec.GlobalVars, ec.Container.Vars(), ec.Params)
}

// Execute runs the topmost frame of the stack (position len(s)-1),
// spec §4.4.
func (s Stack) Execute(ctx context.Context, ec *ExecContext) error {
	return s.executeFrame(ctx, ec, len(s)-1)
}

func (s Stack) executeFrame(ctx context.Context, ec *ExecContext, position int) error {
	if position < 0 || position >= len(s) {
		return sergioerr.New(sergioerr.StackUnderflow, ec.Container.ContainerID(),
			fmt.Sprintf("no frame at stack position %d", position))
	}

	frame := s[position]
	idle := false

	for _, item := range frame {
		switch item.Kind {
		case KindIdleMarker:
			idle = true

		case KindParentMarker:
			if position == 0 {
				return sergioerr.New(sergioerr.StackUnderflow, ec.Container.ContainerID(),
					"!parent has no frame below position 0")
			}
			if err := s.executeFrame(ctx, ec, position-1); err != nil {
				return err
			}

		case KindShell:
			metrics.ActionsExecutedTotal.WithLabelValues(string(KindShell)).Inc()
			if err := ec.execShell(ctx, item.Shell, idle); err != nil {
				metrics.ActionsFailedTotal.WithLabelValues(string(KindShell)).Inc()
				return err
			}

		case KindRPC:
			metrics.ActionsExecutedTotal.WithLabelValues(string(KindRPC)).Inc()
			if err := ec.execRPC(ctx, item.RPC); err != nil {
				metrics.ActionsFailedTotal.WithLabelValues(string(KindRPC)).Inc()
				return err
			}

		case KindFileDrop:
			metrics.ActionsExecutedTotal.WithLabelValues(string(KindFileDrop)).Inc()
			if err := ec.execFileDrop(ctx, item.FileDrop); err != nil {
				metrics.ActionsFailedTotal.WithLabelValues(string(KindFileDrop)).Inc()
				return err
			}

		case KindFileTransfer:
			metrics.ActionsExecutedTotal.WithLabelValues(string(KindFileTransfer)).Inc()
			if err := ec.execFileTransfer(ctx, item.FileTransfer); err != nil {
				metrics.ActionsFailedTotal.WithLabelValues(string(KindFileTransfer)).Inc()
				return err
			}

		case KindFileRemove:
			metrics.ActionsExecutedTotal.WithLabelValues(string(KindFileRemove)).Inc()
			ec.execFileRemove(ctx, item.FileRemove)

		case KindWorkdirSet:
			metrics.ActionsExecutedTotal.WithLabelValues(string(KindWorkdirSet)).Inc()
			ec.execWorkdirSet(item.WorkdirSet)

		case KindEcho:
			metrics.ActionsExecutedTotal.WithLabelValues(string(KindEcho)).Inc()
			ec.execEcho(item.Echo)
		}
	}
	return nil
}

func (ec *ExecContext) execShell(ctx context.Context, line string, idle bool) error {
	expanded := ec.expand(line)
	if wd := ec.Container.GetWorkdir(); wd != "" {
		expanded = fmt.Sprintf("cd %s; %s", wd, expanded)
	}

	logger := log.WithContainer(ec.Container.ContainerID())
	logger.Info().Str("action", "log").Msg(expanded)

	code, err := ec.Engine.Execute(ctx, ec.Container.ContainerID(), ec.Container.ContainerUser(), ec.Container.ContainerShell(), expanded)
	if err != nil {
		return sergioerr.Wrap(sergioerr.ExecutionFailed, ec.Container.ContainerID(), "shell item failed", err)
	}
	if code != 0 && !idle {
		return sergioerr.New(sergioerr.ExecutionFailed, ec.Container.ContainerID(),
			fmt.Sprintf("shell item exited %d", code))
	}
	return nil
}

func (ec *ExecContext) execRPC(ctx context.Context, item *RPCItem) error {
	target := item.Target
	if target == "self" {
		target = ec.Container.ContainerID()
	}

	view, stack, ok, err := ec.Dispatcher.ResolveAction(target, item.Action)
	if err != nil {
		return sergioerr.Wrap(sergioerr.ExecutionFailed, ec.Container.ContainerID(), "rpc target resolution failed", err)
	}
	if !ok {
		log.WithContainer(ec.Container.ContainerID()).Info().
			Str("rpc_target", target).Str("rpc_action", item.Action).
			Msg("rpc targets an undefined action, skipping")
		return nil
	}

	params := make(map[string]string, len(item.Parameters)+1)
	for k, v := range item.Parameters {
		params[k] = ec.expand(v)
	}
	params["caller"] = ec.Container.ContainerID()

	child := &ExecContext{
		Container:  view,
		Engine:     ec.Engine,
		Dispatcher: ec.Dispatcher,
		GlobalVars: ec.GlobalVars,
		Params:     params,
		SearchDirs: ec.SearchDirs,
	}
	return stack.Execute(ctx, child)
}

func (ec *ExecContext) execFileDrop(ctx context.Context, item *FileDropItem) error {
	expandedFilename := ec.expand(item.Filename)

	chown := item.Chown
	if chown == "" {
		chown = "user:user"
	}
	chmod := item.Chmod
	if chmod == "" {
		chmod = "0755"
	}

	// Deliberately looked up by the UNEXPANDED filename (spec §9
	// design note 1): the key in the files: map is never templated.
	fc, ok := ec.Container.LookupFile(item.Filename)
	if !ok {
		return sergioerr.New(sergioerr.FileNotFound, ec.Container.ContainerID(),
			fmt.Sprintf("no files entry named %q", item.Filename))
	}

	var data []byte
	switch v := fc.(type) {
	case LiteralContent:
		data = []byte(ec.expand(string(v)))
	case LoadRef:
		var cwd, configDir, definitionsDir string
		if len(ec.SearchDirs) > 0 {
			cwd = ec.SearchDirs[0]
		}
		if len(ec.SearchDirs) > 1 {
			configDir = ec.SearchDirs[1]
		}
		if len(ec.SearchDirs) > 2 {
			definitionsDir = ec.SearchDirs[2]
		}
		b, err := v.Resolve(cwd, configDir, definitionsDir)
		if err != nil {
			return sergioerr.Wrap(sergioerr.FileNotFound, ec.Container.ContainerID(), "load-reference unreadable", err)
		}
		data = b
	default:
		return sergioerr.New(sergioerr.ExecutionFailed, ec.Container.ContainerID(), "unrecognized file content type")
	}

	dir := filepath.Dir(expandedFilename)
	if _, err := ec.mustExec(ctx, fmt.Sprintf("mkdir -p %s", dir)); err != nil {
		return err
	}

	if err := ec.Engine.FilePut(ctx, ec.Container.ContainerID(), expandedFilename, data, 0644); err != nil {
		return sergioerr.Wrap(sergioerr.ExecutionFailed, ec.Container.ContainerID(), "file-drop write failed", err)
	}

	if _, err := ec.mustExec(ctx, fmt.Sprintf("chown %s %s", chown, expandedFilename)); err != nil {
		return err
	}
	if _, err := ec.mustExec(ctx, fmt.Sprintf("chmod %s %s", chmod, expandedFilename)); err != nil {
		return err
	}
	return nil
}

// execFileTransfer copies a file between the current container and
// another one. The chown step runs via the CALLING container's shell
// regardless of which side is the destination — a faithfully preserved
// quirk, not a fix (spec §9 design note 2).
func (ec *ExecContext) execFileTransfer(ctx context.Context, item *FileTransferItem) error {
	callerID := ec.Container.ContainerID()
	otherView, err := ec.Dispatcher.ResolveContainer(item.OtherID)
	if err != nil {
		return sergioerr.Wrap(sergioerr.ExecutionFailed, callerID, "file-transfer target resolution failed", err)
	}

	source := ec.expand(item.SourcePath)
	target := ec.expand(item.TargetPath)

	var destUser string
	if item.Down {
		data, err := ec.Engine.FileGet(ctx, otherView.ContainerID(), source)
		if err != nil {
			return sergioerr.Wrap(sergioerr.FileNotFound, callerID, "file-transfer source read failed", err)
		}
		if err := ec.Engine.FilePut(ctx, callerID, target, data, 0644); err != nil {
			return sergioerr.Wrap(sergioerr.ExecutionFailed, callerID, "file-transfer write failed", err)
		}
		destUser = ec.Container.ContainerUser()
	} else {
		data, err := ec.Engine.FileGet(ctx, callerID, source)
		if err != nil {
			return sergioerr.Wrap(sergioerr.FileNotFound, callerID, "file-transfer source read failed", err)
		}
		if err := ec.Engine.FilePut(ctx, otherView.ContainerID(), target, data, 0644); err != nil {
			return sergioerr.Wrap(sergioerr.ExecutionFailed, callerID, "file-transfer write failed", err)
		}
		destUser = otherView.ContainerUser()
	}

	if _, err := ec.mustExec(ctx, fmt.Sprintf("chown %s:%s %s", destUser, destUser, target)); err != nil {
		return err
	}
	return nil
}

func (ec *ExecContext) execFileRemove(ctx context.Context, item *FileRemoveItem) {
	expanded := ec.expand(item.Filename)
	if err := ec.Engine.FileDelete(ctx, ec.Container.ContainerID(), expanded); err != nil {
		log.WithContainer(ec.Container.ContainerID()).Debug().
			Str("file", expanded).Err(err).
			Msg("file-remove target missing or unreadable, ignoring")
	}
}

func (ec *ExecContext) execWorkdirSet(item *WorkdirSetItem) {
	ec.Container.SetWorkdir(ec.expand(item.Path))
}

func (ec *ExecContext) execEcho(item *EchoItem) {
	log.WithContainer(ec.Container.ContainerID()).Info().Msg(ec.expand(item.Text))
}

// mustExec runs line inside the calling container's own shell as its
// own user, unconditionally requiring a zero exit — used for the
// plumbing steps (mkdir, chown, chmod) that special action items issue
// on their own behalf, not the idle-tolerant top-level shell items.
func (ec *ExecContext) mustExec(ctx context.Context, line string) (int, error) {
	code, err := ec.Engine.Execute(ctx, ec.Container.ContainerID(), ec.Container.ContainerUser(), ec.Container.ContainerShell(), line)
	if err != nil {
		return code, sergioerr.Wrap(sergioerr.ExecutionFailed, ec.Container.ContainerID(), "support command failed", err)
	}
	if code != 0 {
		return code, sergioerr.New(sergioerr.ExecutionFailed, ec.Container.ContainerID(),
			fmt.Sprintf("support command %q exited %d", line, code))
	}
	return code, nil
}
