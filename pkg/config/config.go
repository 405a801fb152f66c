// Package config loads sergio's root configuration file: where
// container definitions and backups live, and any global template
// variables (spec §3 "Root configuration").
package config

import (
	"os"
	"path/filepath"

	"github.com/benkle-apps/sergio/pkg/sergioerr"
	"gopkg.in/yaml.v3"
)

// candidateNames is tried, in order, against the current directory when
// no -c flag is given (spec §6 "Config discovery order"); the user's
// home directory is then searched for sergio.yml and sergio.yaml only.
var candidateNames = []string{"sergio.yml", "sergio.yaml", "config.yml", "config.yaml"}

// Config is the root value loader's resolved output: absolute paths and
// the global variable scope (spec §2 "Value loader").
type Config struct {
	Path           string
	DefinitionsDir string
	BackupsDir     string
	Variables      map[string]string
}

type onDisk struct {
	Definitions string            `yaml:"definitions"`
	Backups     string            `yaml:"backups"`
	Variables   map[string]string `yaml:"variables"`
}

// Discover resolves the root config path per spec §6: explicit, else
// the first of ./sergio.yml, ./sergio.yaml, ./config.yml, ./config.yaml,
// ~/sergio.yml, ~/sergio.yaml that exists.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", sergioerr.Wrap(sergioerr.ConfigNotFound, "", "explicit -c config path", err)
		}
		return explicit, nil
	}

	for _, name := range candidateNames {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		for _, name := range []string{"sergio.yml", "sergio.yaml"} {
			path := filepath.Join(home, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", sergioerr.New(sergioerr.ConfigNotFound, "", "no sergio config file found")
}

// Load reads and resolves the root config at path, making Definitions
// and Backups absolute relative to path's own directory (spec §3:
// "paths relative to the config file").
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, sergioerr.Wrap(sergioerr.ConfigNotFound, "", "reading config file", err)
	}

	var doc onDisk
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, sergioerr.Wrap(sergioerr.ParseError, "", "parsing config yaml", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	base := filepath.Dir(abs)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	return &Config{
		Path:           abs,
		DefinitionsDir: resolve(doc.Definitions),
		BackupsDir:     resolve(doc.Backups),
		Variables:      doc.Variables,
	}, nil
}
