package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/benkle-apps/sergio/pkg/sergioerr"
)

const backupTempPath = "/tmp/backup.zip"

// backupTimestampFormat matches spec §6's persisted backup naming.
const backupTimestampFormat = "2006-01-02_15-04-05"

// restoreCandidatePattern matches dated backup files when no explicit
// path or latest symlink is available (spec §4.6 "restore").
var restoreCandidatePattern = regexp.MustCompile(`^([a-zA-Z0-9_-]+)_\d{4}([-_]\d{2}){5}\.zip$`)

// Backup realizes spec §4.6 "backup": runs the required backup action,
// reads the in-container archive it produces, stores it under the
// backups directory with a timestamped name, and repoints the "_latest"
// symlink at it.
func (o *Orchestrator) Backup(ctx context.Context, id, backupsDir string, now time.Time) (string, error) {
	c, err := o.Registry.Get(id)
	if err != nil {
		return "", err
	}
	if _, ok := c.Actions["backup"]; !ok {
		return "", sergioerr.New(sergioerr.ExecutionFailed, id, "no backup action defined")
	}

	running, err := o.isRunning(ctx, id)
	if err != nil {
		return "", err
	}
	if !running {
		o.logger(id).Info().Msg("not running")
	}

	if err := o.runActionIfPresent(ctx, c, "backup", nil); err != nil {
		return "", err
	}

	data, err := o.Engine.FileGet(ctx, id, backupTempPath)
	if err != nil {
		return "", sergioerr.Wrap(sergioerr.FileNotFound, id, "reading backup archive", err)
	}

	if err := os.MkdirAll(backupsDir, 0755); err != nil {
		return "", fmt.Errorf("creating backups dir: %w", err)
	}

	filename := fmt.Sprintf("%s_%s.zip", id, now.Format(backupTimestampFormat))
	destPath := filepath.Join(backupsDir, filename)
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing backup archive: %w", err)
	}

	if err := o.Engine.FileDelete(ctx, id, backupTempPath); err != nil {
		o.logSwallowed(id, "removing in-container backup temp file", err)
	}

	latestPath := filepath.Join(backupsDir, id+"_latest.zip")
	_ = os.Remove(latestPath)
	if err := os.Symlink(filename, latestPath); err != nil {
		return destPath, fmt.Errorf("updating latest symlink: %w", err)
	}

	return destPath, nil
}

// Restore realizes spec §4.6 "restore": resolves a backup archive
// (explicit path, the "_latest" symlink, or the lexically greatest
// dated backup), uploads it into the container, and runs the required
// restore action — swallowing the action's own errors (spec §9 design
// note 3).
func (o *Orchestrator) Restore(ctx context.Context, id, explicitPath, backupsDir string) error {
	c, err := o.Registry.Get(id)
	if err != nil {
		return err
	}
	if _, ok := c.Actions["restore"]; !ok {
		return sergioerr.New(sergioerr.ExecutionFailed, id, "no restore action defined")
	}

	path, err := resolveRestoreCandidate(id, explicitPath, backupsDir)
	if err != nil {
		return err
	}

	running, err := o.isRunning(ctx, id)
	if err != nil {
		return err
	}
	if !running {
		o.logger(id).Info().Msg("not running")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return sergioerr.Wrap(sergioerr.FileNotFound, id, "reading backup archive", err)
	}

	if err := o.Engine.FilePut(ctx, id, backupTempPath, data, 0644); err != nil {
		return sergioerr.Wrap(sergioerr.ExecutionFailed, id, "uploading backup archive", err)
	}

	if err := o.runActionIfPresent(ctx, c, "restore", nil); err != nil {
		o.logSwallowed(id, "restore action", err)
	}

	if err := o.Engine.FileDelete(ctx, id, backupTempPath); err != nil {
		o.logSwallowed(id, "removing in-container backup temp file", err)
	}
	return nil
}

// resolveRestoreCandidate tries, in order: cwd/path, backupsDir/path,
// backupsDir/<id>_latest.zip, then the lexically greatest dated backup
// under backupsDir (scenario S6).
func resolveRestoreCandidate(id, explicitPath, backupsDir string) (string, error) {
	var candidates []string
	if explicitPath != "" {
		candidates = append(candidates, explicitPath, filepath.Join(backupsDir, explicitPath))
	}
	candidates = append(candidates, filepath.Join(backupsDir, id+"_latest.zip"))

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	entries, err := os.ReadDir(backupsDir)
	if err != nil {
		return "", sergioerr.Wrap(sergioerr.FileNotFound, id, "listing backups dir", err)
	}

	var dated []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := restoreCandidatePattern.FindStringSubmatch(e.Name())
		if m != nil && m[1] == id {
			dated = append(dated, e.Name())
		}
	}
	if len(dated) == 0 {
		return "", sergioerr.New(sergioerr.FileNotFound, id, "no backup archive found")
	}
	sort.Strings(dated)
	return filepath.Join(backupsDir, dated[len(dated)-1]), nil
}
