package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/daysim/internal/api"
	"github.com/talgya/daysim/internal/config"
	"github.com/talgya/daysim/internal/engine"
	"github.com/talgya/daysim/internal/persistence"
)

// addSimFlags registers the flags shared by commands that build a
// simulation.
func addSimFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "YAML config file (defaults apply when empty)")
	cmd.Flags().Int("days", 0, "Days to simulate")
	cmd.Flags().Int("agents", 0, "Number of agents")
	cmd.Flags().Int64("seed", 0, "Random seed")
	cmd.Flags().Int("workers", 0, "Parallel planners (0 = GOMAXPROCS)")
}

// loadConfig reads --config, or the defaults, and applies any flag that
// was set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	f := cmd.Flags()
	if f.Changed("days") {
		cfg.Simulation.Days, _ = f.GetInt("days")
	}
	if f.Changed("agents") {
		cfg.Simulation.Agents, _ = f.GetInt("agents")
	}
	if f.Changed("seed") {
		cfg.Simulation.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("workers") {
		cfg.Simulation.Workers, _ = f.GetInt("workers")
	}
	if cfg.Simulation.Days < 1 || cfg.Simulation.Agents < 1 {
		return nil, errors.New("days and agents must be positive")
	}
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation to its horizon",
		Long: `Run builds a town and population, then plans and executes every agent's
activities until the horizon or an interrupt. Results can be stored in
SQLite, journaled as compressed JSONL, and served over HTTP.

Environment:
  DAYSIM_ADMIN_KEY   bearer token for POST endpoints
  DAYSIM_STREAM_KEY  bearer token for the websocket stream`,
		RunE: runSimulation,
	}
	addSimFlags(cmd)
	cmd.Flags().String("db", "", "SQLite database path")
	cmd.Flags().String("journal", "", "Directory for the activity journal")
	cmd.Flags().String("addr", "", "HTTP listen address, e.g. :8080")
	cmd.Flags().Float64("speed", 0, "Simulated seconds per wall second (0 = as fast as possible)")
	return cmd
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := setupLogging(cmd, cfg.Logging.Level); err != nil {
		return err
	}

	slog.Info("daysim starting", "version", version)
	sim, err := engine.Build(cfg)
	if err != nil {
		return fmt.Errorf("build simulation: %w", err)
	}
	slog.Info("population built",
		"run", sim.RunID,
		"agents", len(sim.Agents),
		"days", cfg.Simulation.Days,
		"seed", cfg.Simulation.Seed,
		"start", sim.Start().Format(time.DateOnly),
	)

	eng := engine.NewEngine(sim)
	speed, _ := cmd.Flags().GetFloat64("speed")
	eng.SetSpeed(speed)

	var db *persistence.DB
	var rec *persistence.Recorder
	if path, _ := cmd.Flags().GetString("db"); path != "" {
		if db, err = persistence.Open(path); err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := db.SaveRun(sim); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		rec = db.NewRecorder(sim.RunID)
		sim.Subscribe(rec)
		eng.OnDay = func(rep engine.DayReport) {
			if err := db.SaveRunState(sim); err != nil {
				slog.Error("auto-save failed", "day", rep.Day, "error", err)
			}
		}
		slog.Info("database opened", "path", path)
	}

	if dir, _ := cmd.Flags().GetString("journal"); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("journal dir: %w", err)
		}
		j := persistence.NewJournal(dir, sim.RunID)
		sim.Subscribe(j)
		defer func() {
			if err := j.Close(); err != nil {
				slog.Error("journal close failed", "error", err)
			}
		}()
		slog.Info("journal enabled", "dir", dir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		srv := api.NewServer(sim, eng, db, addr)
		srv.AdminKey = os.Getenv("DAYSIM_ADMIN_KEY")
		srv.StreamKey = os.Getenv("DAYSIM_STREAM_KEY")
		if srv.AdminKey == "" {
			slog.Warn("DAYSIM_ADMIN_KEY not set, admin endpoints disabled")
		}
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				slog.Error("http shutdown failed", "error", err)
			}
		}()
	}

	if err := eng.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if db != nil {
		if err := rec.Flush(); err != nil {
			slog.Error("flush activities failed", "error", err)
		}
		if err := db.SaveRunState(sim); err != nil {
			slog.Error("final save failed", "error", err)
		} else {
			slog.Info("final state saved", "time", sim.SimTime())
		}
	}

	st := sim.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d alive, %d dead, %d activities, %d cancelled, %d faulted\n",
		sim.RunID, st.Stats.Alive, st.Stats.Dead, st.Stats.Activities, st.Stats.Cancelled, st.Stats.Faulted)
	return nil
}
