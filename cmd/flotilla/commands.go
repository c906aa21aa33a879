package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artpar/flotilla/internal/core/descriptor"
	"github.com/artpar/flotilla/internal/shell/orchestrator"
	"github.com/artpar/flotilla/internal/shell/platform"
	"github.com/artpar/flotilla/internal/shell/store"
)

// =============================================================================
// Root Command (deploy)
// =============================================================================

func newRootCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
		force      bool
		only       string
	)

	cmd := &cobra.Command{
		Use:   "flotilla <descriptor-file>",
		Short: "Dependency-aware multi-service deployment orchestrator",
		Long: `Flotilla deploys a set of interdependent services to a cloud application
platform in dependency order: it sequences the descriptor set into waves,
resolves ${{service.field}} configuration references against live outputs,
verifies health before dependents start, and tracks state so repeated runs
converge instead of redeploying healthy services.`,
		Version:       fmt.Sprintf("%s (built %s)", Version, BuildTime),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, args[0], configPath, dryRun, force, only)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"Validate the graph and simulate variable resolution without calling the platform")
	cmd.Flags().BoolVar(&force, "force", false,
		"Ignore the state tracker's idempotency skip and redeploy healthy services")
	cmd.Flags().StringVar(&only, "only", "",
		"Deploy a single service and its unresolved dependencies")

	cmd.AddCommand(newStatusCmd(&configPath))
	cmd.AddCommand(newLogsCmd(&configPath))

	return cmd
}

func runDeploy(cmd *cobra.Command, descriptorPath, configPath string, dryRun, force bool, only string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := SetupLogger(cfg)

	services, err := descriptor.ParseFile(descriptorPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		tracker store.Tracker
		gateway platform.Gateway
	)

	if dryRun {
		// Simulation: prime a scratch tracker from the persisted records and
		// run against the in-memory gateway. Zero platform calls, and the
		// real state tracker is never written.
		real, err := store.NewSQLiteTracker(cfg.State.DSN)
		if err != nil {
			return err
		}
		records, err := real.List(ctx)
		real.Close()
		if err != nil {
			return err
		}
		tracker = store.NewMemoryTrackerFrom(records)
		gateway = platform.NewMemoryGateway()
		logger.Info("dry run: platform calls are simulated")
	} else {
		sqliteTracker, err := store.NewSQLiteTracker(cfg.State.DSN)
		if err != nil {
			return err
		}
		tracker = sqliteTracker
		gateway = platform.NewGraphQLGateway(platform.GraphQLConfig{
			APIURL:        cfg.Platform.APIURL,
			Token:         cfg.Platform.Token,
			Timeout:       cfg.Platform.Timeout,
			RetryMax:      cfg.Platform.RetryMax,
			HealthTimeout: cfg.Platform.HealthTimeout,
		}, logger)
	}
	defer tracker.Close()

	orch := orchestrator.New(tracker, gateway, orchestrator.Config{
		Concurrency: cfg.Orchestrator.Concurrency,
		Force:       force,
		Only:        only,
	}, logger)

	report, err := orch.Run(ctx, services)
	if report != nil {
		report.Write(cmd.OutOrStdout())
	}
	return err
}

// =============================================================================
// Status Command
// =============================================================================

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tracked deployment records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}

			tracker, err := store.NewSQLiteTracker(cfg.State.DSN)
			if err != nil {
				return err
			}
			defer tracker.Close()

			records, err := tracker.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no deployment records")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SERVICE\tPHASE\tATTEMPTS\tUPDATED\tLAST ERROR")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					rec.Service, rec.Phase, rec.Attempts,
					rec.UpdatedAt.Format("2006-01-02 15:04:05"), rec.LastError)
			}
			return w.Flush()
		},
	}
}

// =============================================================================
// Logs Command
// =============================================================================

func newLogsCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "logs <service>",
		Short: "Fetch recent log lines for a deployed service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := SetupLogger(cfg)

			tracker, err := store.NewSQLiteTracker(cfg.State.DSN)
			if err != nil {
				return err
			}
			defer tracker.Close()

			rec, err := tracker.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rec.Handle == "" {
				return fmt.Errorf("service %q has never been deployed", args[0])
			}

			gateway := platform.NewGraphQLGateway(platform.GraphQLConfig{
				APIURL:        cfg.Platform.APIURL,
				Token:         cfg.Platform.Token,
				Timeout:       cfg.Platform.Timeout,
				RetryMax:      cfg.Platform.RetryMax,
				HealthTimeout: cfg.Platform.HealthTimeout,
			}, logger)

			lines, err := gateway.GetLogs(cmd.Context(),
				platform.Handle{ServiceID: rec.Handle, ServiceName: rec.Service}, limit)
			if err != nil {
				return err
			}
			for _, line := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of log lines to fetch")
	return cmd
}
