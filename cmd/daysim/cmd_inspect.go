package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/daysim/internal/agents"
	"github.com/talgya/daysim/internal/engine"
)

type inspectOutput struct {
	Agent    engine.AgentSummary     `json:"agent"`
	Day      int                     `json:"day"`
	Schedule []engine.ActivityRecord `json:"schedule"`
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Simulate and print one agent's schedule for a day",
		Long: `Inspect runs the simulation unthrottled far enough to cover --day and
prints what the agent did that day. Day -1 is the sleep the run starts
in.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := setupLogging(cmd, "warn"); err != nil {
				return err
			}
			id, _ := cmd.Flags().GetUint64("agent")
			day, _ := cmd.Flags().GetInt("day")
			jsonOut, _ := cmd.Flags().GetBool("json")
			if day < -1 {
				return fmt.Errorf("day %d: must be -1 or later", day)
			}
			// The closing sleep of day ends on the morning after.
			cfg.Simulation.Days = max(cfg.Simulation.Days, day+2)

			sim, err := engine.Build(cfg)
			if err != nil {
				return fmt.Errorf("build simulation: %w", err)
			}
			if err := engine.NewEngine(sim).Run(cmd.Context()); err != nil {
				return fmt.Errorf("run: %w", err)
			}

			sum, err := sim.Summary(agents.AgentID(id))
			if err != nil {
				return err
			}
			sched, err := sim.Schedule(agents.AgentID(id), day)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(inspectOutput{Agent: sum, Day: day, Schedule: sched})
			}

			fmt.Fprintf(out, "Agent %d %s, age %d", sum.ID, sum.Name, sum.Age)
			if !sum.Alive {
				fmt.Fprint(out, " (dead)")
			}
			fmt.Fprintf(out, "\nDay %d\n\n", day)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "START\tEND\tACTIVITY\tLOCATION\tNOTE")
			for _, r := range sched {
				note := ""
				switch {
				case r.Cancelled:
					note = "cancelled: " + r.Reason
				case r.Dies:
					note = "dies"
				case r.Hospitalized:
					note = "hospitalized"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					r.Start.Format(time.DateTime), r.End.Format(time.DateTime), r.Label, r.Location, note)
			}
			return tw.Flush()
		},
	}
	addSimFlags(cmd)
	cmd.Flags().Uint64("agent", 1, "Agent ID")
	cmd.Flags().Int("day", 0, "Day counted from the start")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}
