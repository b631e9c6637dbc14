// Command batsim runs an infrastructure simulation: a platform of hosts
// driven by an external decision component that makes every scheduling
// call over a request/reply boundary.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/oar-team/batsim-go/internal/exec"
	"github.com/oar-team/batsim-go/internal/ids"
	"github.com/oar-team/batsim-go/internal/job"
	"github.com/oar-team/batsim-go/internal/machine"
	"github.com/oar-team/batsim-go/internal/protocol"
	"github.com/oar-team/batsim-go/internal/server"
	"github.com/oar-team/batsim-go/internal/sim"
	"github.com/oar-team/batsim-go/internal/trace"
	"github.com/oar-team/batsim-go/internal/workload"
	"github.com/oar-team/batsim-go/pkg/config"
	batsimerrors "github.com/oar-team/batsim-go/pkg/errors"
	"github.com/oar-team/batsim-go/pkg/logging"
	"github.com/oar-team/batsim-go/pkg/metrics"
	"github.com/oar-team/batsim-go/pkg/middleware"
	"github.com/oar-team/batsim-go/pkg/retry"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = ""
	Commit    = ""

	cfg = config.NewDefault()

	configFile    string
	workflowFiles []string
	edcLibrary    string
	edcSocket     string
	wireFormat    string
	addRoles      []string
	dumpContext   bool

	rootCmd = &cobra.Command{
		Use:   "batsim",
		Short: "Infrastructure simulator for job and I/O scheduling policies",
		Long: `Batsim simulates a cluster platform under the control of an External
Decision Component (EDC) reached as a shared library or over a
request/reply socket. It replays workloads, executes scheduling
decisions, and exports deterministic traces.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation()
		},
	}
)

func init() {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime)

	flags := rootCmd.Flags()
	flags.StringVarP(&cfg.PlatformFile, "platform", "p", "", "platform description file (required)")
	flags.StringArrayVarP(&cfg.WorkloadFiles, "workload", "w", nil, "workload file (repeatable)")
	flags.StringArrayVar(&cfg.EventFiles, "events", nil, "external-event file (repeatable)")
	flags.StringArrayVar(&workflowFiles, "workflow-dag", nil, "workflow DAG file, expanded into precedence-ordered jobs (repeatable)")
	flags.StringVar(&edcLibrary, "edc-library", "", "EDC shared-library path")
	flags.StringVar(&edcSocket, "edc-socket", "", "EDC request/reply socket endpoint (host:port or unix://path)")
	flags.StringVar(&cfg.EDCInitBuffer, "edc-init-buffer", "", "opaque init buffer forwarded to the EDC")
	flags.StringVar(&wireFormat, "wire-format", string(config.WireFormatJSON), "EDC wire format: json or binary")
	flags.StringVarP(&cfg.ExportPrefix, "export", "e", "out/", "export prefix for trace files")
	flags.IntVar(&cfg.Mmax, "mmax", 0, "cap on usable compute machines (0 = no cap)")
	flags.BoolVar(&cfg.MmaxWorkload, "mmax-workload", false, "cap usable compute machines to the workloads' declared nb_res")
	flags.BoolVar(&cfg.EnergyHost, "energy-host", false, "enable per-host energy readings")
	flags.StringArrayVar(&addRoles, "add-role", nil, "assign a role to a host: <hostname>:<master|storage|compute_node> (repeatable)")
	flags.StringVar(&configFile, "config", "", "optional YAML config file")
	flags.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	flags.CountVarP(&cfg.Verbosity, "verbose", "v", "increase verbosity")
	flags.BoolVar(&dumpContext, "dump-execution-context", false, "print the effective configuration as JSON and exit")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("batsim version %s\n", Version)
		if BuildTime != "" {
			fmt.Printf("Build Time: %s\n", BuildTime)
		}
		if Commit != "" {
			fmt.Printf("Commit:     %s\n", Commit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSimulation() error {
	if err := resolveConfig(); err != nil {
		return err
	}
	if dumpContext {
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	logger := newLogger()
	logger.Info("starting simulation", "run_id", uuid.NewString(), "platform", cfg.PlatformFile)

	machines, err := loadPlatform()
	if err != nil {
		return err
	}

	collector := metrics.NewInMemoryCollector()
	metrics.SetDefaultCollector(collector)

	tracers, err := trace.NewSet(cfg.ExportPrefix, cfg.EnergyHost)
	if err != nil {
		return err
	}

	client, err := newEDCClient(logger, collector)
	if err != nil {
		return err
	}

	clock := sim.NewClock()
	platform := exec.NewReferencePlatform()
	srv := server.New(server.Options{
		Clock:         clock,
		Client:        client,
		Machines:      machines,
		Jobs:          job.NewRegistry(),
		Workloads:     workload.NewRegistry(),
		Platform:      platform,
		Tracers:       tracers,
		Logger:        logger,
		Metrics:       collector,
		EnergyEnabled: cfg.EnergyHost,
		Config: map[string]any{
			"export_prefix": cfg.ExportPrefix,
			"energy_host":   cfg.EnergyHost,
			"wire_format":   string(cfg.WireFormat),
		},
	})

	totalNbRes := 0
	for _, path := range cfg.WorkloadFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeUnreadableInput,
				"reading workload %q: %v", path, err)
		}
		name := workloadName(path)
		w, jobs, err := workload.LoadFile(name, data)
		if err != nil {
			return err
		}
		totalNbRes += w.NbRes
		if err := srv.AddStaticWorkload(w, jobs); err != nil {
			return err
		}
		logger.Info("loaded workload", "name", name, "jobs", len(jobs))
	}
	if cfg.MmaxWorkload && totalNbRes > 0 {
		machines.ApplyMmax(totalNbRes)
	}

	for _, path := range cfg.EventFiles {
		f, err := os.Open(path)
		if err != nil {
			return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeUnreadableInput,
				"reading events %q: %v", path, err)
		}
		events, err := workload.LoadEvents(f)
		f.Close()
		if err != nil {
			return err
		}
		srv.AddExternalEvents(filepath.Base(path), events)
		logger.Info("loaded external events", "file", path, "events", len(events))
	}

	for _, path := range workflowFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeUnreadableInput,
				"reading workflow %q: %v", path, err)
		}
		tasks, err := workload.ParseWorkflow(data)
		if err != nil {
			return err
		}
		if err := srv.AddWorkflow(string(workloadName(path)), tasks); err != nil {
			return err
		}
		logger.Info("loaded workflow", "file", path, "tasks", len(tasks))
	}

	if err := srv.Run(context.Background()); err != nil {
		os.Exit(3)
	}
	logger.Info("simulation finished")
	return nil
}

// resolveConfig merges flags, the optional config file, and environment
// variables into cfg, then validates it.
func resolveConfig() error {
	if configFile != "" {
		if err := cfg.LoadFile(configFile); err != nil {
			return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeUnreadableInput,
				"loading config file %q: %v", configFile, err)
		}
	}
	cfg.LoadEnv()

	if edcLibrary != "" {
		cfg.EDCMode = config.EDCModeLibrary
		cfg.EDCLibrary = edcLibrary
	}
	if edcSocket != "" {
		cfg.EDCMode = config.EDCModeSocket
		cfg.EDCSocket = edcSocket
	}
	if edcLibrary != "" && edcSocket != "" {
		return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeInvalidCLI,
			"exactly one of --edc-library and --edc-socket must be given")
	}
	cfg.WireFormat = config.WireFormat(wireFormat)

	for _, spec := range addRoles {
		host, role, ok := strings.Cut(spec, ":")
		if !ok {
			return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeInvalidCLI,
				"--add-role %q: want <hostname>:<role>", spec)
		}
		switch config.Role(role) {
		case config.RoleMaster, config.RoleStorage, config.RoleComputeNode:
			cfg.Roles[host] = config.Role(role)
		default:
			return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeInvalidCLI,
				"--add-role %q: unknown role %q", spec, role)
		}
	}

	if dumpContext {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeInvalidCLI, "%v", err)
	}
	return nil
}

func newLogger() logging.Logger {
	lcfg := logging.DefaultConfig()
	lcfg.Version = Version
	if cfg.Debug || cfg.Verbosity > 1 {
		lcfg.Level = slog.LevelDebug
	} else if cfg.Verbosity == 0 {
		lcfg.Level = slog.LevelWarn
	}
	return logging.NewLogger(lcfg)
}

func loadPlatform() (*machine.Registry, error) {
	data, err := os.ReadFile(cfg.PlatformFile)
	if err != nil {
		return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeUnreadableInput,
			"reading platform %q: %v", cfg.PlatformFile, err)
	}
	overrides := make(map[string]machine.Role, len(cfg.Roles))
	for host, role := range cfg.Roles {
		overrides[host] = machine.Role(role)
	}
	machines, err := machine.LoadPlatform(data, overrides)
	if err != nil {
		return nil, err
	}
	machines.ApplyMmax(cfg.Mmax)
	return machines, nil
}

// newEDCClient builds the decision-component client for the configured
// mode, wrapping the raw transport in the logging/metrics/timeout chain.
func newEDCClient(logger logging.Logger, collector metrics.Collector) (protocol.Client, error) {
	codec, err := protocol.NewCodec(protocol.WireFormat(cfg.WireFormat))
	if err != nil {
		return nil, err
	}

	switch cfg.EDCMode {
	case config.EDCModeLibrary:
		syms, err := protocol.LoadLibrary(cfg.EDCLibrary, true)
		if err != nil {
			return nil, err
		}
		return protocol.NewLibraryClient(codec, syms, []byte(cfg.EDCInitBuffer), 0)

	case config.EDCModeSocket:
		var dial protocol.SocketDialer
		if path, ok := strings.CutPrefix(cfg.EDCSocket, "unix://"); ok {
			dial = protocol.DialUnix(path)
		} else {
			dial = protocol.DialTCP(cfg.EDCSocket)
		}
		transport, closeFn := protocol.NewSocketTransport(dial, retry.NewExponentialBackoff())
		chain := middleware.Chain(
			middleware.WithLogging(logger),
			middleware.WithMetrics(collector),
			middleware.WithTimeout(30*time.Second),
		)
		return protocol.NewClient(codec, chain(transport), closeFn), nil

	default:
		return nil, batsimerrors.NewConfigurationError(batsimerrors.ErrorCodeInvalidCLI,
			"unknown EDC mode %q", cfg.EDCMode)
	}
}

func workloadName(path string) ids.WorkloadName {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	name = strings.ReplaceAll(name, "!", "_")
	return ids.WorkloadName(name)
}
