package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/20af02/netrelay/hostapi"
	"github.com/20af02/netrelay/p2p"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

type runOptions struct {
	configFile string
	envDir     string
	logDir     string
	logLevel   string
	callWait   time.Duration
}

func addRunFlags(fs *pflag.FlagSet, o *runOptions) {
	fs.StringVarP(&o.configFile, "config", "c", "netrelay.yaml", "Path to the topology file (.yaml or .toml)")
	fs.StringVar(&o.envDir, "env-dir", defaultEnvDir, "Directory holding node identity .env files")
	fs.StringVar(&o.logDir, "log-dir", logDir, "Directory for rotated log files")
	fs.StringVar(&o.logLevel, "log-level", "", "Override the topology log level")
	fs.DurationVar(&o.callWait, "call-timeout", 5*time.Second, "How long a host call waits for its workflow")
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "netrelay",
		Short: "Run relay stacks over pluggable transports",
	}

	var o runOptions
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start a node from a topology file and open its shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o)
		},
	}
	addRunFlags(runCmd.Flags(), &o)
	root.AddCommand(runCmd)
	return root
}

func run(ctx context.Context, o runOptions) error {
	topo, err := loadTopology(o.configFile)
	if err != nil {
		return err
	}
	level := topo.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	logger, err := NewLog(o.logDir, fmt.Sprintf("%s.log", topo.Node), level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	nodeCfg, fresh, err := loadOrCreateConfig(o.envDir, topo.Node)
	if err != nil {
		return err
	}
	if fresh {
		logger.Info("node identity created", zap.String("node", topo.Node), zap.String("id", nodeCfg.ID))
	}

	journal, err := NewJournal(nodeCfg.ID, nodeCfg.DBFile, p2p.GOBCodec{})
	if err != nil {
		return err
	}
	defer journal.Close()

	interval, _ := topo.Interval()
	node := NewNode(NodeOpts{
		ID:           nodeCfg.ID,
		TickInterval: interval,
		Journal:      journal,
		Logger:       logger,
	})
	go node.Start()
	defer node.Stop()

	reg := prometheus.NewRegistry()
	metrics, err := p2p.NewMetrics(reg)
	if err != nil {
		return err
	}
	if topo.MetricsAddr != "" {
		srv := &http.Server{Addr: topo.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	env := FactoryEnv{
		Switch:  p2p.NewSwitch(),
		EncKey:  nodeCfg.EncKey,
		Metrics: metrics,
		Logger:  logger,
	}
	for _, rc := range topo.Relays {
		f, err := buildFactory(rc, env)
		if err != nil {
			return err
		}
		if err := node.AddRelay(ctx, rc.Name, f); err != nil {
			return fmt.Errorf("relay %s: %w", rc.Name, err)
		}
	}

	rt := &hostapi.Runtime{Log: logger, Workflows: node, Timeout: o.callWait}
	Tui(NewNodeCLI(node, rt))
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
