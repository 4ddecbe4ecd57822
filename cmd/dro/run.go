package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/copyleftdev/dro/internal/checkpoint"
	"github.com/copyleftdev/dro/internal/config"
	"github.com/copyleftdev/dro/internal/logging"
	"github.com/copyleftdev/dro/internal/metrics"
	"github.com/copyleftdev/dro/internal/objective"
	"github.com/copyleftdev/dro/internal/optimization/step"
	"github.com/copyleftdev/dro/internal/settings"
	"github.com/copyleftdev/dro/internal/trajectory"
	"github.com/copyleftdev/dro/internal/transport"
)

var (
	runOut        string
	runStore      string
	runCheckpoint string
	runSeed       uint64
)

var runCmd = &cobra.Command{
	Use:   "run <config>",
	Short: "Run the learned optimizer on the objective described by a settings file",
	Long: `Loads a settings document (JSON or TOML), restores the controller from the
latest checkpoint and runs the step loop. The run fails without a checkpoint;
"dro checkpoints init" writes an untrained one for trying the loop out.`,
	Args: cobra.ExactArgs(1),
	RunE: runOptimization,
}

func init() {
	runCmd.Flags().StringVar(&runOut, "out", "", "Write the trajectory as JSON to this file")
	runCmd.Flags().StringVar(&runStore, "store", "", "Record the run in the run database in this directory")
	runCmd.Flags().StringVar(&runCheckpoint, "checkpoint", "", "Checkpoint directory (default: save_path from the settings)")
	runCmd.Flags().Uint64Var(&runSeed, "seed", 0, "Seed for the starting point (default: RANDOM_SEED)")
	rootCmd.AddCommand(runCmd)
}

// runOptions are the inputs of a single run.
type runOptions struct {
	ConfigPath    string
	CheckpointDir string
	Out           string
	StoreDir      string
	Seed          uint64
}

func runOptimization(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Run.MetricsAddr != "" {
		shutdown := serveMetrics(cfg.Run.MetricsAddr, reg, logger)
		defer shutdown()
	}

	seed := runSeed
	if seed == 0 {
		seed = cfg.Run.Seed
	}
	run, err := execute(ctx, runOptions{
		ConfigPath:    args[0],
		CheckpointDir: runCheckpoint,
		Out:           runOut,
		StoreDir:      runStore,
		Seed:          seed,
	}, cfg, logger, m)
	if err != nil {
		logger.Error("Run failed", map[string]interface{}{"error": err.Error()})
		return err
	}
	return printSummary(cmd.OutOrStdout(), run)
}

// execute performs one run: settings, checkpoint, objective, step loop,
// then the optional JSON export and store record. Nothing is written when
// the run fails.
func execute(ctx context.Context, opts runOptions, cfg *config.Config, logger *logging.Logger, m *metrics.Metrics) (*trajectory.Run, error) {
	s, err := settings.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	zl := logging.NewZapLogger(logger.WithField("config", opts.ConfigPath))
	defer zl.Sync() //nolint:errcheck // best-effort flush

	dir := opts.CheckpointDir
	if dir == "" {
		dir = s.SavePath
	}
	cell, err := checkpoint.NewLoader(zl).Restore(dir, s.ControllerShape())
	if err != nil {
		return nil, err
	}

	obj, release, err := buildObjective(ctx, s, cfg, m)
	if err != nil {
		return nil, err
	}
	defer release()

	stepCfg, err := step.ConfigFromSettings(s, opts.Seed)
	if err != nil {
		return nil, err
	}
	opt, err := step.New(stepCfg, cell, obj, step.WithLogger(zl), step.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	res, err := opt.Run(ctx)
	if err != nil {
		return nil, err
	}

	scaler, err := objective.NewScaler(s.ParamRanges)
	if err != nil {
		return nil, err
	}
	run, err := trajectory.NewRun(opts.ConfigPath, res.Trajectory, s.ParamNames, scaler, s.Direction, res.StoppedEarly())
	if err != nil {
		return nil, err
	}

	if opts.Out != "" {
		if err := run.WriteFile(opts.Out); err != nil {
			return nil, err
		}
	}
	if opts.StoreDir != "" {
		store, err := trajectory.OpenStore(opts.StoreDir)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		if _, err := store.SaveRun(ctx, run); err != nil {
			return nil, err
		}
	}
	return run, nil
}

// buildObjective returns the local or remote objective for s and a release
// function that closes any channel it opened.
func buildObjective(ctx context.Context, s *settings.Settings, cfg *config.Config, m *metrics.Metrics) (objective.Objective, func(), error) {
	if !s.Remote {
		fn, err := objective.Lookup(s.ReactionType, s.NumParams)
		if err != nil {
			return nil, nil, err
		}
		obj, err := objective.NewLocal(fn, s.NumParams, s.ParamRanges, s.Direction)
		if err != nil {
			return nil, nil, err
		}
		return obj, func() {}, nil
	}

	ch, err := transport.Dial(ctx, cfg.Remote.Transport, s.Endpoint(), cfg.Remote.Timeout)
	if err != nil {
		return nil, nil, err
	}
	obj, err := objective.NewRemote(ch, s.ParamNames, s.ParamRanges, s.Direction, m)
	if err != nil {
		ch.Close()
		return nil, nil, err
	}
	return obj, func() { ch.Close() }, nil
}

func printSummary(w io.Writer, run *trajectory.Run) error {
	ending := "completed"
	if run.StoppedEarly {
		ending = "stopped by objective"
	}
	if _, err := fmt.Fprintf(w, "%d entries, %s\n", run.Len(), ending); err != nil {
		return err
	}
	point, value, ok := run.Best()
	if !ok {
		return nil
	}
	parts := make([]string, len(point))
	for i, v := range point {
		parts[i] = fmt.Sprintf("%s=%g", run.ParamNames[i], v)
	}
	_, err := fmt.Fprintf(w, "best (%s): %g at %s\n", run.Direction, value, strings.Join(parts, " "))
	return err
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *logging.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info("Serving metrics", map[string]interface{}{"address": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
