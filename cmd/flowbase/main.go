// Command flowbase runs one node of a FlowBase cluster: the raft-backed
// coordination authority, the controller (recipe compilation and
// migration placement), a worker capable of executing domains, the
// cluster-RPC and admin-RPC listeners, metrics, and — optionally — CDC
// ingestion from an upstream MySQL or Postgres database.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowbase/flowbase/pkg/adminrpc"
	"github.com/flowbase/flowbase/pkg/cdc"
	"github.com/flowbase/flowbase/pkg/clusterrpc"
	"github.com/flowbase/flowbase/pkg/controller"
	"github.com/flowbase/flowbase/pkg/coordination"
	"github.com/flowbase/flowbase/pkg/graph"
	"github.com/flowbase/flowbase/pkg/log"
	"github.com/flowbase/flowbase/pkg/metrics"
	"github.com/flowbase/flowbase/pkg/router"
	"github.com/flowbase/flowbase/pkg/workerrt"
	"github.com/spf13/cobra"
)

var (
	logLevel   string
	logJSON    bool
	nodeID     string
	dataDir    string
	raftAddr   string
	bootstrap  bool
	deployment string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "flowbase",
		Short: "FlowBase cluster node: controller, worker, and RPC listeners",
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit JSON logs instead of console output")
	cobra.OnInitialize(initLogging)

	root.AddCommand(runCmd())
	return root
}

func initLogging() {
	level := log.InfoLevel
	switch logLevel {
	case "debug":
		level = log.DebugLevel
	case "warn":
		level = log.WarnLevel
	case "error":
		level = log.ErrorLevel
	}
	log.Init(log.Config{Level: level, JSONOutput: logJSON, Output: os.Stdout})
}

func runCmd() *cobra.Command {
	var (
		clusterAddr string
		adminAddr   string
		metricsAddr string
		mysqlDSN    string
		mysqlTables []string
		pgDSN       string
		pgTables    []string
		cursorCol   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start this node and block until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(nodeOpts{
				nodeID:      nodeID,
				dataDir:     dataDir,
				raftAddr:    raftAddr,
				bootstrap:   bootstrap,
				deployment:  deployment,
				clusterAddr: clusterAddr,
				adminAddr:   adminAddr,
				metricsAddr: metricsAddr,
				mysqlDSN:    mysqlDSN,
				mysqlTables: mysqlTables,
				pgDSN:       pgDSN,
				pgTables:    pgTables,
				cursorCol:   cursorCol,
			})
		},
	}

	cmd.Flags().StringVar(&nodeID, "node-id", "", "this node's unique identity (required)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "directory for raft and controller state")
	cmd.Flags().StringVar(&raftAddr, "raft-addr", "127.0.0.1:7000", "address this node's raft transport binds to")
	cmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "bootstrap a new single-node cluster")
	cmd.Flags().StringVar(&deployment, "deployment", "default", "namespaces coordination state for multi-deployment quorums")
	cmd.Flags().StringVar(&clusterAddr, "cluster-rpc-addr", "127.0.0.1:7001", "address this node's cluster (data-plane) RPC listens on")
	cmd.Flags().StringVar(&adminAddr, "admin-rpc-addr", "127.0.0.1:7002", "address this node's admin (control-plane) RPC listens on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "127.0.0.1:7003", "address the Prometheus metrics endpoint listens on")
	cmd.Flags().StringVar(&mysqlDSN, "mysql-dsn", "", "if set, ingest change data from this MySQL DSN")
	cmd.Flags().StringSliceVar(&mysqlTables, "mysql-tables", nil, "tables to ingest from --mysql-dsn")
	cmd.Flags().StringVar(&pgDSN, "postgres-dsn", "", "if set, ingest change data from this Postgres DSN")
	cmd.Flags().StringSliceVar(&pgTables, "postgres-tables", nil, "tables to ingest from --postgres-dsn")
	cmd.Flags().StringVar(&cursorCol, "cdc-cursor-column", "id", "monotonic cursor column CDC polling orders by")
	cmd.MarkFlagRequired("node-id")
	return cmd
}

type nodeOpts struct {
	nodeID     string
	dataDir    string
	raftAddr   string
	bootstrap  bool
	deployment string

	clusterAddr string
	adminAddr   string
	metricsAddr string

	mysqlDSN    string
	mysqlTables []string
	pgDSN       string
	pgTables    []string
	cursorCol   string
}

func runNode(opts nodeOpts) error {
	logger := log.WithComponent("flowbase")
	logger.Info().Str("node_id", opts.nodeID).Msg("starting FlowBase node")

	store, err := controller.NewStore(opts.dataDir)
	if err != nil {
		return fmt.Errorf("open controller store: %w", err)
	}
	defer store.Close()

	authority, err := coordination.New(coordination.Config{
		NodeID:     opts.nodeID,
		BindAddr:   opts.raftAddr,
		DataDir:    opts.dataDir,
		Deployment: opts.deployment,
		Bootstrap:  opts.bootstrap,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("build coordination authority: %w", err)
	}
	if err := authority.Init(); err != nil {
		return fmt.Errorf("init coordination authority: %w", err)
	}

	if _, err := authority.RegisterWorker(coordination.WorkerDescriptor{
		ID:      coordination.WorkerID(opts.nodeID),
		Address: opts.clusterAddr,
		Healthy: true,
	}); err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	if _, _, err := authority.BecomeLeader([]byte(opts.nodeID)); err != nil {
		return fmt.Errorf("attempt leadership: %w", err)
	}

	g := graph.NewGraph()
	placement := graph.NewPlacement()

	rtr := router.New(router.Config{
		WorkerID:  opts.nodeID,
		Graph:     g,
		Placement: placement,
		Logger:    logger,
	})
	worker := workerrt.New(rtr, g, opts.nodeID, logger)

	ctrl := controller.New(controller.Config{
		WorkerID:  opts.nodeID,
		Graph:     g,
		Placement: placement,
		Authority: authority,
		Router:    worker,
		Store:     store,
		Logger:    logger,
	})
	defer ctrl.Close()

	// Recovery: the live graph/placement are never persisted directly —
	// they're rebuilt by replaying the stored recipe back through
	// ExtendRecipe, in the order it was originally applied.
	statements, err := store.LoadRecipe()
	if err != nil {
		return fmt.Errorf("load stored recipe: %w", err)
	}
	for _, ddl := range statements {
		if err := ctrl.ExtendRecipe(ddl, nil); err != nil {
			return fmt.Errorf("replay stored recipe: %w", err)
		}
	}
	logger.Info().Int("statements", len(statements)).Msg("replayed stored recipe")

	clusterSrv := clusterrpc.NewServer(clusterrpc.ServerConfig{Logger: logger}, transportServer{worker: worker})
	adminSrv := adminrpc.NewServer(adminrpc.ServerConfig{Logger: logger}, adminrpc.ControllerImpl{Ctrl: ctrl})

	errCh := make(chan error, 4)
	go func() {
		if err := clusterSrv.Serve(opts.clusterAddr); err != nil {
			errCh <- fmt.Errorf("cluster RPC server: %w", err)
		}
	}()
	go func() {
		if err := adminSrv.Serve(opts.adminAddr); err != nil {
			errCh <- fmt.Errorf("admin RPC server: %w", err)
		}
	}()

	metricsSrv := &http.Server{Addr: opts.metricsAddr, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	var replicators []*cdc.Replicator
	ctx, cancelReplicators := context.WithCancel(context.Background())
	defer cancelReplicators()

	if opts.mysqlDSN != "" {
		conn, err := cdc.NewMySQLConnector(cdc.MySQLConfig{
			DSN:       opts.mysqlDSN,
			Tables:    opts.mysqlTables,
			CursorCol: opts.cursorCol,
		})
		if err != nil {
			return fmt.Errorf("build MySQL connector: %w", err)
		}
		rep := cdc.New(cdc.Config{
			Connector: conn,
			Sink:      cdc.ControllerSink{Ctrl: ctrl},
			Schema:    cdc.ControllerSink{Ctrl: ctrl},
			Store:     store,
			Logger:    logger,
		})
		if err := rep.Start(ctx); err != nil {
			return fmt.Errorf("start MySQL replicator: %w", err)
		}
		replicators = append(replicators, rep)
	}

	if opts.pgDSN != "" {
		conn, err := cdc.NewPostgresConnector(ctx, cdc.PostgresConfig{
			DSN:       opts.pgDSN,
			Tables:    opts.pgTables,
			CursorCol: opts.cursorCol,
		})
		if err != nil {
			return fmt.Errorf("build Postgres connector: %w", err)
		}
		rep := cdc.New(cdc.Config{
			Connector: conn,
			Sink:      cdc.ControllerSink{Ctrl: ctrl},
			Schema:    cdc.ControllerSink{Ctrl: ctrl},
			Store:     store,
			Logger:    logger,
		})
		if err := rep.Start(ctx); err != nil {
			return fmt.Errorf("start Postgres replicator: %w", err)
		}
		replicators = append(replicators, rep)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("fatal error, shutting down")
	}

	for _, rep := range replicators {
		rep.Stop()
	}
	cancelReplicators()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	adminSrv.Stop()
	clusterSrv.Stop()
	worker.StopAll()
	_ = authority.SurrenderLeadership()
	return authority.Shutdown()
}
