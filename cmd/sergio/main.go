// Command sergio is the CLI adapter for the container definition and
// action-execution engine (spec §6). It realizes exactly one verb
// against exactly one container per invocation.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benkle-apps/sergio/pkg/config"
	"github.com/benkle-apps/sergio/pkg/engine"
	"github.com/benkle-apps/sergio/pkg/log"
	"github.com/benkle-apps/sergio/pkg/metrics"
	"github.com/benkle-apps/sergio/pkg/orchestrator"
	"github.com/benkle-apps/sergio/pkg/registry"
	"github.com/benkle-apps/sergio/pkg/sergioerr"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	Version = "dev"
	Commit  = "unknown"
)

var (
	configPath  string
	outputMode  string
	recursive   bool
	metricsAddr string
	logLevel    string
	logJSON     bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "sergio CONTAINER VERB [PARAMS...]",
	Short:   "Declaratively provision and operate LXD-compatible containers",
	Version: Version,
	Args:    cobra.MinimumNArgs(2),
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("sergio %s (%s)\n", Version, Commit))

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "root config path (overrides discovery)")
	rootCmd.Flags().StringVarP(&outputMode, "output", "o", "both", "output routing: both, actions, log, or none")
	rootCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "recursively create/start prerequisites")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose prometheus metrics on this address")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().BoolVar(&logJSON, "log-json", false, "output logs as json")

	cobra.OnInitialize(initLogging)
}

// initLogging wires the "log"/"both" half of -o routing: those modes
// print the "[name] message" log lines, "actions"/"none" suppress them
// (spec §6 "-o routing").
func initLogging() {
	switch outputMode {
	case "log", "both":
		log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
	default:
		log.Discard()
	}
}

// applyOutputMode wires the "actions"/"both" half of -o routing: those
// modes forward in-container stdout/stderr to the terminal, "log"/"none"
// suppress it.
func applyOutputMode(eng *engine.Client, mode string) {
	switch mode {
	case "actions", "both":
		eng.Stdout = os.Stdout
		eng.Stderr = os.Stderr
	default:
		eng.Stdout = io.Discard
		eng.Stderr = io.Discard
	}
}

func run(cmd *cobra.Command, args []string) error {
	containerID := args[0]
	verb := args[1]
	paramArgs := args[2:]

	log.Logger = log.Logger.With().Str("invocation_id", uuid.NewString()).Logger()

	if metricsAddr != "" {
		go func() {
			_ = http.ListenAndServe(metricsAddr, metrics.Handler())
		}()
	}

	cfgPath, err := config.Discover(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}

	reg := registry.New(cfg.DefinitionsDir)

	eng, err := engine.NewClient("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	defer eng.Close()
	applyOutputMode(eng, outputMode)

	cwd, _ := os.Getwd()
	searchDirs := []string{cwd, filepathDirOf(cfg.Path), cfg.DefinitionsDir}
	orch := orchestrator.New(reg, eng, searchDirs, cfg.Variables)

	ctx := context.Background()
	err = dispatch(ctx, orch, cfg, containerID, verb, paramArgs, recursive)
	metrics.RecordTransition(verb, err)

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}

func dispatch(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config, id, verb string, paramArgs []string, recursive bool) error {
	params := parseParams(paramArgs)

	switch verb {
	case "create":
		return orch.Create(ctx, id, recursive)
	case "start":
		return orch.Start(ctx, id, recursive)
	case "stop":
		return orch.Stop(ctx, id)
	case "destroy":
		return orch.Destroy(ctx, id)
	case "nat":
		return orch.Nat(ctx, id)
	case "denat":
		return orch.Denat(ctx, id)
	case "running":
		running, err := orch.IsRunning(ctx, id)
		if err != nil {
			return err
		}
		if !running {
			return sergioerr.New(sergioerr.RequirementsNotMet, id, "container is not running")
		}
		return nil
	case "login":
		return orch.Login(ctx, id, params["dir"])
	case "backup":
		path, err := orch.Backup(ctx, id, cfg.BackupsDir, time.Now())
		if err == nil {
			fmt.Println(path)
		}
		return err
	case "restore":
		return orch.Restore(ctx, id, firstOf(paramArgs), cfg.BackupsDir)
	case "download":
		if len(paramArgs) < 2 {
			return sergioerr.New(sergioerr.ExecutionFailed, id, "download requires src and dst")
		}
		data, err := orch.Download(ctx, id, paramArgs[0], paramArgs[1])
		if err != nil {
			return err
		}
		if paramArgs[1] == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		return os.WriteFile(paramArgs[1], data, 0644)
	case "upload":
		if len(paramArgs) < 2 {
			return sergioerr.New(sergioerr.ExecutionFailed, id, "upload requires src and dst")
		}
		var data []byte
		var err error
		if paramArgs[0] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(paramArgs[0])
		}
		if err != nil {
			return err
		}
		return orch.Upload(ctx, id, paramArgs[1], data)
	case "exec":
		if len(paramArgs) < 1 {
			return sergioerr.New(sergioerr.ExecutionFailed, id, "exec requires an action name")
		}
		return orch.Exec(ctx, id, paramArgs[0], parseParams(paramArgs[1:]))
	default:
		return orch.Exec(ctx, id, verb, params)
	}
}

// parseParams splits each "key=value" PARAMS entry on its first '='
// (spec §6: "PARAMS as key=value (first '=' splits)").
func parseParams(args []string) map[string]string {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			continue
		}
		params[k] = v
	}
	return params
}

func firstOf(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func filepathDirOf(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Dir(path)
}
