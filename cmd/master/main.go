package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/clustermaster/pkg/allocator/simple"
	"github.com/cuemby/clustermaster/pkg/api"
	"github.com/cuemby/clustermaster/pkg/authz"
	"github.com/cuemby/clustermaster/pkg/events"
	"github.com/cuemby/clustermaster/pkg/log"
	"github.com/cuemby/clustermaster/pkg/master"
	"github.com/cuemby/clustermaster/pkg/metrics"
	"github.com/cuemby/clustermaster/pkg/ratelimit"
	"github.com/cuemby/clustermaster/pkg/registry"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "master",
	Short:   "master - cluster-manager core (agent/framework lifecycle, offers, registry)",
	Long:    `master is the central authority mediating between resource-offering agents and resource-consuming frameworks.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("master version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the cluster master",
	Long: `Start a master node: opens the durable registry, wires the allocator,
authenticator, authorizer and rate limiter, and begins serving the
scheduler and operator HTTP API.

On first start of a fresh data directory, pass --bootstrap to form a new
single-node registry cluster. Joining an existing registry cluster is a
raft-layer concern handled outside this command.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().String("node-id", "master-1", "Unique node ID, prefixes every assigned agent/framework id")
	startCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Registry (raft) bind address")
	startCmd.Flags().String("api-addr", "127.0.0.1:8080", "Scheduler/operator HTTP API address")
	startCmd.Flags().String("data-dir", "./master-data", "Durable registry data directory")
	startCmd.Flags().Bool("bootstrap", false, "Bootstrap a new single-node registry cluster")

	startCmd.Flags().Duration("agent-reregister-timeout", 10*time.Minute, "How long a disconnected agent may go without re-registering before it is marked unreachable")
	startCmd.Flags().Duration("framework-failover-timeout", time.Minute, "Default window a disconnected framework has to re-subscribe before teardown")
	startCmd.Flags().Duration("offer-timeout", 0, "Offer expiration; zero means offers never expire on their own")
	startCmd.Flags().Int("max-completed-frameworks", 50, "Bounded ring size for completed (torn-down) frameworks")
	startCmd.Flags().Int("max-completed-tasks-per-framework", 100, "Bounded ring size for a framework's completed tasks")
	startCmd.Flags().Int("max-unreachable-agents", 1000, "Count cap used by registry garbage collection")
	startCmd.Flags().Duration("registry-gc-interval", 5*time.Minute, "How often the unreachable-agent pruning sweep runs")
	startCmd.Flags().Duration("registry-max-agent-age", 24*time.Hour, "Age cap used by registry garbage collection")
	startCmd.Flags().Bool("registry-strict", false, "Reject re-registration from agents the registry does not recognize")
	startCmd.Flags().StringSlice("role-whitelist", nil, "Restrict offers to this set of roles; empty means no restriction")
	startCmd.Flags().StringToString("weights", nil, "role=weight pairs for allocator fair-share ordering")
	startCmd.Flags().Bool("authentication-required", false, "Reject unauthenticated scheduler/operator calls")
	startCmd.Flags().Float64("default-rate-limit-qps", 50, "Token-bucket refill rate for principals with no explicit rate_limits entry")
	startCmd.Flags().Int("default-rate-limit-capacity", 200, "Deferred-message queue capacity for principals with no explicit rate_limits entry")
	startCmd.Flags().Duration("metrics-interval", 15*time.Second, "How often the metrics collector resnapshots aggregate gauges")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address for the /metrics, /health, /ready endpoints")
}

func runStart(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	bootstrap, _ := cmd.Flags().GetBool("bootstrap")

	roleWhitelist, _ := cmd.Flags().GetStringSlice("role-whitelist")
	weightFlags, _ := cmd.Flags().GetStringToString("weights")
	weights := make(map[string]float64, len(weightFlags))
	for role, raw := range weightFlags {
		var w float64
		if _, err := fmt.Sscanf(raw, "%f", &w); err != nil {
			return fmt.Errorf("invalid weight for role %q: %v", role, err)
		}
		weights[role] = w
	}

	authRequired, _ := cmd.Flags().GetBool("authentication-required")
	defaultQPS, _ := cmd.Flags().GetFloat64("default-rate-limit-qps")
	defaultCapacity, _ := cmd.Flags().GetInt("default-rate-limit-capacity")
	metricsInterval, _ := cmd.Flags().GetDuration("metrics-interval")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	cfg := master.Config{
		AgentReregisterTimeout:        mustDuration(cmd, "agent-reregister-timeout"),
		FrameworkFailoverTimeout:      mustDuration(cmd, "framework-failover-timeout"),
		OfferTimeout:                  mustDuration(cmd, "offer-timeout"),
		MaxCompletedFrameworks:        mustInt(cmd, "max-completed-frameworks"),
		MaxCompletedTasksPerFramework: mustInt(cmd, "max-completed-tasks-per-framework"),
		MaxUnreachableAgents:          mustInt(cmd, "max-unreachable-agents"),
		RegistryGCInterval:            mustDuration(cmd, "registry-gc-interval"),
		RegistryMaxAgentAge:           mustDuration(cmd, "registry-max-agent-age"),
		RegistryStrict:                mustBool(cmd, "registry-strict"),
		RemovedAgentCacheSize:         1024,
		RoleWhitelist:                 roleWhitelist,
		Weights:                       weights,
		AuthenticationRequired:        authRequired,
	}

	fmt.Println("Starting cluster master...")
	fmt.Printf("  Node ID: %s\n", nodeID)
	fmt.Printf("  Registry Address: %s\n", bindAddr)
	fmt.Printf("  API Address: %s\n", apiAddr)
	fmt.Printf("  Data Directory: %s\n", dataDir)
	fmt.Println()

	reg, err := registry.NewClient(registry.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: dataDir})
	if err != nil {
		return fmt.Errorf("failed to open registry: %v", err)
	}
	if bootstrap {
		if err := reg.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap registry: %v", err)
		}
		fmt.Println("✓ Registry bootstrapped")
	}

	alloc := simple.New()

	var authn authz.Authenticator = authz.NoneAuthenticator{}
	var az authz.Authorizer = authz.AllowAllAuthorizer{}
	if authRequired {
		// With authentication_required on, NoneAuthenticator still resolves
		// no principal, so the master refuses every call it authenticates,
		// and this grant-less ACL authorizer denies every authorization
		// request. Calls that carry no connection (revive, suppress,
		// acknowledge, reconcile, the listings) are not checked.
		az = authz.NewACLAuthorizer(nil, nil)
	}
	// At most one authentication in flight per remote endpoint; a reconnect
	// supersedes the attempt its predecessor left hanging.
	authn = authz.NewTracker(authn)

	limiter := ratelimit.New(ratelimit.Config{QPS: defaultQPS, Capacity: defaultCapacity}, nil)

	broker := events.NewBroker()
	broker.Start()

	m := master.New(cfg, reg, alloc, authn, az, limiter, broker, nodeID)
	if err := m.Start(); err != nil {
		return fmt.Errorf("failed to start master: %v", err)
	}
	fmt.Println("✓ Master actor started")

	collector := metrics.NewCollector(m, reg, metricsInterval)
	collector.Start()
	fmt.Println("✓ Metrics collector started")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("raft", true, "bootstrapped")
	metrics.RegisterComponent("registry", true, "ready")
	metrics.RegisterComponent("api", false, "initializing")

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.Handle("/health", metrics.HealthHandler())
	metricsMux.Handle("/ready", metrics.ReadyHandler())
	metricsMux.Handle("/live", metrics.LivenessHandler())
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("Metrics server error: %v\n", err)
		}
	}()
	fmt.Printf("✓ Metrics endpoint: http://%s/metrics\n", metricsAddr)

	apiServer := api.NewServer(m, broker, limiter, Version)
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(apiAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %v", err)
		}
	}()
	time.Sleep(200 * time.Millisecond)
	metrics.RegisterComponent("api", true, "ready")
	fmt.Printf("✓ Scheduler/operator API listening on %s\n", apiAddr)
	fmt.Println()
	fmt.Println("Master is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\n%v\n", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = apiServer.Stop(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	collector.Stop()
	m.Stop()
	broker.Stop()
	if err := reg.Close(); err != nil {
		return fmt.Errorf("failed to close registry: %v", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}

func mustDuration(cmd *cobra.Command, name string) time.Duration {
	v, _ := cmd.Flags().GetDuration(name)
	return v
}

func mustInt(cmd *cobra.Command, name string) int {
	v, _ := cmd.Flags().GetInt(name)
	return v
}

func mustBool(cmd *cobra.Command, name string) bool {
	v, _ := cmd.Flags().GetBool(name)
	return v
}
