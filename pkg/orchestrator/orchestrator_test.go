package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benkle-apps/sergio/pkg/engine"
	"github.com/benkle-apps/sergio/pkg/registry"
)

// fakeEngine is a minimal, in-memory engine.Engine for orchestrator
// tests — no containerd required.
type fakeEngine struct {
	status    map[string]engine.Status
	existsSet map[string]bool
	files     map[string][]byte
	executed  []string
	exitCodes map[string]int // keyed by command line

	launchErr  error
	deleteErr  error
	launchedID string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		status:    make(map[string]engine.Status),
		existsSet: make(map[string]bool),
		files:     make(map[string][]byte),
	}
}

func (e *fakeEngine) Exists(ctx context.Context, id string) (bool, error) {
	return e.existsSet[id], nil
}

func (e *fakeEngine) Launch(ctx context.Context, id, image string, mounts []engine.Mount) error {
	if e.launchErr != nil {
		return e.launchErr
	}
	e.launchedID = id
	e.existsSet[id] = true
	e.status[id] = engine.StatusStopped
	return nil
}

func (e *fakeEngine) Status(ctx context.Context, id string) (engine.Status, error) {
	if s, ok := e.status[id]; ok {
		return s, nil
	}
	return engine.StatusMissing, nil
}

func (e *fakeEngine) Start(ctx context.Context, id string) error {
	e.status[id] = engine.StatusRunning
	return nil
}

func (e *fakeEngine) Stop(ctx context.Context, id string, timeout time.Duration) error {
	e.status[id] = engine.StatusStopped
	return nil
}

func (e *fakeEngine) Delete(ctx context.Context, id string) error {
	if e.deleteErr != nil {
		return e.deleteErr
	}
	delete(e.existsSet, id)
	delete(e.status, id)
	return nil
}

func (e *fakeEngine) NetworkAddresses(ctx context.Context, id, device string) ([]engine.Address, error) {
	return nil, fmt.Errorf("no addresses for %s", id)
}

func (e *fakeEngine) Execute(ctx context.Context, id, user, shell, command string) (int, error) {
	e.executed = append(e.executed, fmt.Sprintf("%s|%s", id, command))
	return e.exitCodes[command], nil
}

func (e *fakeEngine) FileGet(ctx context.Context, id, path string) ([]byte, error) {
	return e.files[id+":"+path], nil
}

func (e *fakeEngine) FilePut(ctx context.Context, id, path string, data []byte, mode int) error {
	e.files[id+":"+path] = data
	return nil
}

func (e *fakeEngine) FileDelete(ctx context.Context, id, path string) error {
	delete(e.files, id+":"+path)
	return nil
}

func (e *fakeEngine) Interactive(ctx context.Context, id, user, shell string) error {
	return nil
}

func writeDefinition(t *testing.T, dir, id, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, id+".yaml"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestCreate_FailsIfAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "web", "container:\n  name: web\n  description: a web box\n  box: ubuntu:22.04\n")

	eng := newFakeEngine()
	eng.existsSet["web"] = true
	orch := New(registry.New(dir), eng, nil, nil)

	if err := orch.Create(context.Background(), "web", false); err == nil {
		t.Fatal("expected an error creating an already-existing container")
	}
}

func TestCreate_RunsCreateThenStartActions(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "web", `container:
  name: web
  description: a web box
  box: ubuntu:22.04
  actions:
    create:
      - "echo creating"
    start:
      - "echo starting"
`)

	eng := newFakeEngine()
	orch := New(registry.New(dir), eng, nil, nil)

	if err := orch.Create(context.Background(), "web", false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if eng.launchedID != "web" {
		t.Fatalf("expected engine.Launch to be called for web")
	}
	if len(eng.executed) != 2 || eng.executed[0] != "web|echo creating" || eng.executed[1] != "web|echo starting" {
		t.Fatalf("expected create then start actions run in order, got %v", eng.executed)
	}
}

func TestStart_NoOpWhenAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "web", "container:\n  name: web\n  description: a web box\n  box: ubuntu:22.04\n")

	eng := newFakeEngine()
	eng.existsSet["web"] = true
	eng.status["web"] = engine.StatusRunning
	orch := New(registry.New(dir), eng, nil, nil)

	if err := orch.Start(context.Background(), "web", false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(eng.executed) != 0 {
		t.Fatalf("expected no action to run for an already-running container, got %v", eng.executed)
	}
}

func TestCreate_RequiresPrerequisitesRunning(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "db", "container:\n  name: db\n  description: a database\n  box: ubuntu:22.04\n")
	writeDefinition(t, dir, "web", `container:
  name: web
  description: a web box
  box: ubuntu:22.04
  requires: [db]
`)

	eng := newFakeEngine()
	orch := New(registry.New(dir), eng, nil, nil)

	if err := orch.Create(context.Background(), "web", false); err == nil {
		t.Fatal("expected requirements-not-met when db isn't running and recursive=false")
	}
}

func TestCreate_RecursiveCreatesPrerequisites(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "db", "container:\n  name: db\n  description: a database\n  box: ubuntu:22.04\n")
	writeDefinition(t, dir, "web", `container:
  name: web
  description: a web box
  box: ubuntu:22.04
  requires: [db]
`)

	eng := newFakeEngine()
	orch := New(registry.New(dir), eng, nil, nil)

	if err := orch.Create(context.Background(), "web", true); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !eng.existsSet["db"] || eng.status["db"] != engine.StatusRunning {
		t.Fatalf("expected db to be created and started recursively")
	}
}

func TestDestroy_SwallowsStopActionErrorAndStillDeletes(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "web", `container:
  name: web
  description: a web box
  box: ubuntu:22.04
  actions:
    stop:
      - "false"
`)

	eng := newFakeEngine()
	eng.existsSet["web"] = true
	eng.status["web"] = engine.StatusRunning
	eng.exitCodes = map[string]int{"false": 1}
	orch := New(registry.New(dir), eng, nil, nil)

	if err := orch.Destroy(context.Background(), "web"); err != nil {
		t.Fatalf("destroy should swallow the stop action's failure, got %v", err)
	}
	if eng.existsSet["web"] {
		t.Fatal("expected the container to be deleted despite the swallowed stop-action error")
	}
}

func TestExec_DispatchesNamedActionWithParams(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "web", `container:
  name: web
  description: a web box
  box: ubuntu:22.04
  actions:
    migrate:
      - "migrate $version"
`)

	eng := newFakeEngine()
	orch := New(registry.New(dir), eng, nil, nil)

	if err := orch.Exec(context.Background(), "web", "migrate", map[string]string{"version": "12"}); err != nil {
		t.Fatalf("exec: %v", err)
	}
	if len(eng.executed) != 1 || eng.executed[0] != "web|migrate 12" {
		t.Fatalf("got %v", eng.executed)
	}
}

func TestExec_UndefinedActionIsNoOp(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "web", "container:\n  name: web\n  description: a web box\n  box: ubuntu:22.04\n")

	eng := newFakeEngine()
	orch := New(registry.New(dir), eng, nil, nil)

	if err := orch.Exec(context.Background(), "web", "nonexistent", nil); err != nil {
		t.Fatalf("expected a missing action to be a no-op, got %v", err)
	}
}
