package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"angela/internal/agents"
	"angela/internal/casestore"
	"angela/internal/config"
	"angela/internal/coordinator"
	"angela/internal/discovery"
	"angela/internal/hsp"
	"angela/internal/launcher"
	"angela/internal/llm"
	"angela/internal/logging"
)

const version = "0.1.0"

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "angela",
	Short: "angela - multi-agent project coordinator",
	Long: `angela decomposes a request into subtasks with an LLM, orders them by
their data dependencies, dispatches each one to a capable agent over the
message bus, and integrates the results into a single answer.

Agents advertise capabilities on the bus; missing agents are launched on
demand.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := logging.Initialize("."); err != nil {
			logger.Warn("debug logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// projectCmd runs one request through the full pipeline.
var projectCmd = &cobra.Command{
	Use:   "project [request]",
	Short: "Decompose a request, dispatch its subtasks, and integrate the results",
	Long: `Runs the full pipeline for a single request:
  1. Decompose: the model breaks the request into capability-tagged subtasks
  2. Order: subtasks are sorted by their <output_of_task_N> dependencies
  3. Dispatch: each subtask goes to an advertising agent (launched if needed)
  4. Integrate: the model merges the collected results into one response

Example:
  angela project "summarize report.txt and analyze its sentiment"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProject,
}

// serveCmd runs an agent fleet until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the configured agent fleet on the bus",
	Long: `Launches the autostart agents from the config (or every builtin kind
with --all) and keeps them advertising on the bus until interrupted.
Mainly useful with the amqp bus, where a coordinator in another process
dispatches to them.`,
	RunE: runServe,
}

// agentsCmd lists the builtin agent kinds.
var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the builtin agent kinds and their capabilities",
	RunE:  runAgents,
}

// capabilitiesCmd watches the bus for capability advertisements.
var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "Listen on the bus and print live capability advertisements",
	RunE:  runCapabilities,
}

// casesCmd prints recently handled projects.
var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Show recently handled projects from the case store",
	RunE:  runCases,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("angela %s\n", version)
	},
}

var (
	serveAll   bool
	listenFor  time.Duration
	casesLimit int
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default .angela/config.yaml)")

	serveCmd.Flags().BoolVar(&serveAll, "all", false, "launch every builtin agent kind")
	capabilitiesCmd.Flags().DurationVar(&listenFor, "wait", 5*time.Second, "how long to listen for advertisements")
	casesCmd.Flags().IntVarP(&casesLimit, "limit", "n", 10, "number of cases to show")

	rootCmd.AddCommand(projectCmd, serveCmd, agentsCmd, capabilitiesCmd, casesCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func openBus(cfg *config.Config) (hsp.Bus, error) {
	switch cfg.Bus.Type {
	case "amqp":
		logger.Info("Connecting to AMQP broker", zap.String("url", cfg.Bus.URL))
		return hsp.NewAMQPBus(cfg.Bus.URL)
	default:
		return hsp.NewMemoryBus(), nil
	}
}

func runProject(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	bus, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	registry := discovery.NewRegistry(cfg.StalenessThreshold())
	registry.StartCleanup(cfg.CleanupInterval())
	defer registry.Stop()

	agentCfg := agents.Config{
		QueueSize:      cfg.Agents.QueueSize,
		HandlerTimeout: cfg.HandlerTimeout(),
		MaxAttempts:    cfg.Agents.MaxAttempts,
		AdvertiseTTL:   cfg.AdvertiseTTL(),
	}
	l := launcher.New(bus, registry, agentCfg)
	defer l.ShutdownAll()

	client, err := llm.NewClient(cfg.LLM)
	if err != nil {
		return err
	}

	var store *casestore.Store
	if cfg.Store.Enabled {
		store, err = casestore.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	coord, err := coordinator.New(coordinator.Config{
		AIID:            cfg.AIID,
		DispatchTimeout: cfg.DispatchTimeout(),
		MaxAttempts:     cfg.Coordinator.MaxAttempts,
		RetryDelay:      cfg.RetryDelay(),
		PromptsPath:     cfg.Coordinator.PromptsPath,
	}, bus, registry, l, client, store)
	if err != nil {
		return err
	}
	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Close()

	if err := launchFleet(ctx, l, cfg.Agents.Autostart); err != nil {
		return err
	}

	logger.Info("Handling project", zap.String("query", query))
	result, err := coord.HandleProject(ctx, query)
	if err != nil {
		return err
	}

	fmt.Println(result.Response)
	if verbose {
		fmt.Println()
		for _, outcome := range result.Outcomes {
			fmt.Printf("  task %d %-28s %-8s %s\n",
				outcome.TaskIndex, outcome.CapabilityNeeded, outcome.Kind, outcome.ExecutingAIID)
		}
		fmt.Printf("  elapsed: %s\n", result.Elapsed.Round(time.Millisecond))
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	bus, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	registry := discovery.NewRegistry(cfg.StalenessThreshold())
	l := launcher.New(bus, registry, agents.Config{
		QueueSize:      cfg.Agents.QueueSize,
		HandlerTimeout: cfg.HandlerTimeout(),
		MaxAttempts:    cfg.Agents.MaxAttempts,
		AdvertiseTTL:   cfg.AdvertiseTTL(),
	})
	defer l.ShutdownAll()

	kinds := cfg.Agents.Autostart
	if serveAll {
		kinds = agents.BuiltinKinds()
	}
	if len(kinds) == 0 {
		return fmt.Errorf("no agents to serve; set agents.autostart in the config or pass --all")
	}

	if err := launchFleet(ctx, l, kinds); err != nil {
		return err
	}

	logger.Info("Agent fleet running", zap.Strings("kinds", kinds))
	fmt.Printf("Serving %d agent(s): %s. Ctrl-C to stop.\n", len(kinds), strings.Join(kinds, ", "))
	<-ctx.Done()
	fmt.Println("\nShutting down.")
	return nil
}

// launchFleet brings up the listed agent kinds concurrently.
func launchFleet(ctx context.Context, l *launcher.Launcher, kinds []string) error {
	if len(kinds) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range kinds {
		g.Go(func() error {
			aiID, err := l.Launch(gctx, kind)
			if err != nil {
				return err
			}
			logger.Info("Agent launched", zap.String("kind", kind), zap.String("ai_id", aiID))
			return nil
		})
	}
	return g.Wait()
}

func runAgents(cmd *cobra.Command, args []string) error {
	bus := hsp.NewMemoryBus()
	defer bus.Close()

	for _, kind := range agents.BuiltinKinds() {
		ctor, _ := agents.Builtin(kind)
		agent := ctor(agents.Config{AIID: "did:hsp:" + kind + "_agent"}, bus)
		fmt.Printf("%s\n", kind)
		for _, capability := range agent.Capabilities() {
			fmt.Printf("  %-24s %s\n", capability.Name, capability.Description)
		}
	}
	return nil
}

func runCapabilities(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	bus, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer bus.Close()

	registry := discovery.NewRegistry(cfg.StalenessThreshold())
	connector := hsp.NewConnector(cfg.AIID+"_observer", bus)
	connector.RegisterOnCapability(registry.ProcessAdvertisement)
	if err := connector.Start(ctx); err != nil {
		return err
	}
	defer connector.Close()

	fmt.Printf("Listening for %s...\n", listenFor)
	select {
	case <-ctx.Done():
	case <-time.After(listenFor):
	}

	capabilities := registry.All()
	if len(capabilities) == 0 {
		fmt.Println("No capabilities advertised.")
		return nil
	}
	for _, capability := range capabilities {
		fmt.Printf("%-48s %-24s %s\n", capability.CapabilityID, capability.Name, capability.AIID)
	}
	return nil
}

func runCases(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store, err := casestore.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	cases, err := store.Recent(casesLimit)
	if err != nil {
		return err
	}
	if len(cases) == 0 {
		fmt.Println("No cases recorded yet.")
		return nil
	}
	for _, c := range cases {
		status := "failed"
		if c.Succeeded {
			status = "ok"
		}
		fmt.Printf("#%d  %s  [%s, %dms]\n  %s\n", c.ID, c.CreatedAt.Format("2006-01-02 15:04"), status, c.ElapsedMS, c.Query)
	}
	return nil
}
