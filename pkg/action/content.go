package action

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileContent is the value type of a container's "files" map: either a
// literal string (template-expanded on use) or a load-reference read
// from disk on use.
type FileContent interface {
	isFileContent()
}

// LiteralContent is an inline string given directly in a files: entry.
type LiteralContent string

func (LiteralContent) isFileContent() {}

// LoadRef is a "!load" tagged files: entry, naming a file to be read
// from disk the moment it is used rather than at definition-load time.
type LoadRef struct {
	Filename string
	IsBytes  bool
}

func (LoadRef) isFileContent() {}

// Resolve locates Filename by checking cwd, then configDir, then
// definitionsDir in that order (spec §3 "Load-reference resolution"),
// and returns its contents. Text entries are returned as their UTF-8
// bytes; binary entries are returned verbatim.
func (r LoadRef) Resolve(cwd, configDir, definitionsDir string) ([]byte, error) {
	for _, dir := range []string{cwd, configDir, definitionsDir} {
		if dir == "" {
			continue
		}
		candidate := r.Filename
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(dir, candidate)
		}
		data, err := os.ReadFile(candidate)
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
		if filepath.IsAbs(r.Filename) {
			break
		}
	}
	return nil, fmt.Errorf("load-reference %q not found under cwd, config dir, or definitions dir", r.Filename)
}
