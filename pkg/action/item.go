// Package action defines the action-item variants an action frame can
// hold, the stack/frame composition that implements inherited action
// stacks (spec §3, §4.4), and the executor that walks a stack against a
// running container (spec §4.4, §4.5).
package action

import (
	"fmt"
	"strings"

	"github.com/benkle-apps/sergio/pkg/sergioerr"
	"gopkg.in/yaml.v3"
)

// Kind discriminates the variant held by an Item.
type Kind string

const (
	KindShell        Kind = "shell"
	KindRPC          Kind = "rpc"
	KindFileDrop     Kind = "file-drop"
	KindFileTransfer Kind = "file-transfer"
	KindFileRemove   Kind = "file-remove"
	KindWorkdirSet   Kind = "workdir-set"
	KindEcho         Kind = "echo"
	KindIdleMarker   Kind = "idle-marker"
	KindParentMarker Kind = "parent-marker"
)

// Item is one entry in an action frame. The payload field matching Kind
// is populated (the Shell string for a shell item, one of the pointer
// fields otherwise); idle and parent markers carry no payload.
type Item struct {
	Kind Kind

	Shell        string
	RPC          *RPCItem
	FileDrop     *FileDropItem
	FileTransfer *FileTransferItem
	FileRemove   *FileRemoveItem
	WorkdirSet   *WorkdirSetItem
	Echo         *EchoItem
}

// RPCItem calls a named action on a target container (possibly "self"),
// overlaying literal parameters (spec §4.5 "RPC").
type RPCItem struct {
	Target     string
	Action     string
	Parameters map[string]string
}

// FileDropItem writes a file's content (looked up in the container's
// files map) into the container, then chowns and chmods it (spec §4.5
// "File-drop").
type FileDropItem struct {
	Filename string
	Chown    string
	Chmod    string
}

// FileTransferItem copies a file between the current container and
// another one, in either direction (spec §4.5 "File-transfer").
type FileTransferItem struct {
	Down          bool
	OtherID       string
	SourcePath    string
	TargetPath    string
}

// FileRemoveItem deletes a file inside the container. A missing file is
// not an error (spec §4.5 "File-remove").
type FileRemoveItem struct {
	Filename string
}

// WorkdirSetItem mutates the container's transient working directory
// for the rest of the invocation (spec §4.5 "Workdir-set").
type WorkdirSetItem struct {
	Path string
}

// EchoItem logs a template-expanded line with no container side effect
// (spec §4.5 "Echo").
type EchoItem struct {
	Text string
}

// UnmarshalYAML decodes one action-frame entry according to its YAML
// tag (spec §6 "YAML tag surface"). An untagged scalar is a shell
// command line.
func (it *Item) UnmarshalYAML(node *yaml.Node) error {
	switch node.Tag {
	case "!idle":
		it.Kind = KindIdleMarker
		return nil
	case "!parent":
		it.Kind = KindParentMarker
		return nil
	case "!rpc":
		var line string
		if err := node.Decode(&line); err != nil {
			return fmt.Errorf("!rpc: %w", err)
		}
		rpc, err := parseRPC(line)
		if err != nil {
			return fmt.Errorf("!rpc %q: %w", line, err)
		}
		it.Kind = KindRPC
		it.RPC = rpc
		return nil
	case "!df":
		var line string
		if err := node.Decode(&line); err != nil {
			return fmt.Errorf("!df: %w", err)
		}
		fd, err := parseFileDrop(line)
		if err != nil {
			return fmt.Errorf("!df %q: %w", line, err)
		}
		it.Kind = KindFileDrop
		it.FileDrop = fd
		return nil
	case "!tf":
		var line string
		if err := node.Decode(&line); err != nil {
			return fmt.Errorf("!tf: %w", err)
		}
		ft, err := parseFileTransfer(line)
		if err != nil {
			return fmt.Errorf("!tf %q: %w", line, err)
		}
		it.Kind = KindFileTransfer
		it.FileTransfer = ft
		return nil
	case "!rm":
		var line string
		if err := node.Decode(&line); err != nil {
			return fmt.Errorf("!rm: %w", err)
		}
		it.Kind = KindFileRemove
		it.FileRemove = &FileRemoveItem{Filename: strings.TrimSpace(line)}
		return nil
	case "!cwd":
		var line string
		if err := node.Decode(&line); err != nil {
			return fmt.Errorf("!cwd: %w", err)
		}
		it.Kind = KindWorkdirSet
		it.WorkdirSet = &WorkdirSetItem{Path: strings.TrimSpace(line)}
		return nil
	case "!echo":
		var line string
		if err := node.Decode(&line); err != nil {
			return fmt.Errorf("!echo: %w", err)
		}
		it.Kind = KindEcho
		it.Echo = &EchoItem{Text: line}
		return nil
	default:
		var line string
		if err := node.Decode(&line); err != nil {
			return fmt.Errorf("action item: expected a shell command string, got %v", node.Kind)
		}
		it.Kind = KindShell
		it.Shell = line
		return nil
	}
}

// parseRPC tokenizes "target action key=value..." (spec §4.5: a plain
// space-separated argument vector, not shell-quoted).
func parseRPC(line string) (*RPCItem, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, fmt.Errorf("expected \"target action [key=value...]\"")
	}
	params := make(map[string]string, len(fields)-2)
	for _, tok := range fields[2:] {
		k, v, ok := strings.Cut(tok, "=")
		if !ok {
			return nil, fmt.Errorf("parameter %q is not key=value", tok)
		}
		params[k] = v
	}
	return &RPCItem{Target: fields[0], Action: fields[1], Parameters: params}, nil
}

// parseFileDrop tokenizes "[chown=...] [chmod=...] filename with spaces"
// with shell-style quoting (spec §4.5: "shell-style token split").
func parseFileDrop(line string) (*FileDropItem, error) {
	tokens, err := shellSplit(line)
	if err != nil {
		return nil, err
	}
	fd := &FileDropItem{}
	i := 0
	for ; i < len(tokens); i++ {
		if v, ok := strings.CutPrefix(tokens[i], "chown="); ok {
			fd.Chown = v
			continue
		}
		if v, ok := strings.CutPrefix(tokens[i], "chmod="); ok {
			fd.Chmod = v
			continue
		}
		break
	}
	if i >= len(tokens) {
		return nil, fmt.Errorf("missing filename")
	}
	fd.Filename = strings.Join(tokens[i:], " ")
	return fd, nil
}

// parseFileTransfer tokenizes "direction other-id source target" (spec
// §4.5 "File-transfer"). Direction is one of d/down/< (copy the other
// container's file down into this one) or u/up/> (copy this
// container's file up into the other one).
func parseFileTransfer(line string) (*FileTransferItem, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return nil, fmt.Errorf("expected \"direction other-id source target\"")
	}
	var down bool
	switch fields[0] {
	case "d", "down", "<":
		down = true
	case "u", "up", ">":
		down = false
	default:
		return nil, sergioerr.New(sergioerr.BadDirection, "", fmt.Sprintf("unrecognized direction %q", fields[0]))
	}
	return &FileTransferItem{
		Down:       down,
		OtherID:    fields[1],
		SourcePath: fields[2],
		TargetPath: fields[3],
	}, nil
}
