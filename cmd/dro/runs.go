package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/dro/internal/trajectory"
)

var runsStore string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect runs recorded with run --store",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := trajectory.OpenExistingStore(runsStore)
		if errors.Is(err, trajectory.ErrNoStore) {
			fmt.Fprintf(cmd.OutOrStdout(), "No run store in %s\n", runsStore)
			return nil
		}
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintf(out, "No runs in %s\n", store.Path())
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCREATED\tSOURCE\tDIRECTION\tENTRIES\tBEST\tSTOPPED")
		for _, r := range runs {
			best := "-"
			if r.HasBest {
				best = fmt.Sprintf("%g", r.BestValue)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%t\n",
				r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Source, r.Direction, r.Entries, best, r.StoppedEarly)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a stored run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := trajectory.OpenExistingStore(runsStore)
		if err != nil {
			return err
		}
		defer store.Close()

		run, err := store.LoadRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return run.WriteJSON(cmd.OutOrStdout())
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := trajectory.OpenExistingStore(runsStore)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
		return nil
	},
}

var runsImportCmd = &cobra.Command{
	Use:   "import <file>...",
	Short: "Record runs exported with run --out in the run database",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runs := make([]*trajectory.Run, 0, len(args))
		for _, path := range args {
			run, err := trajectory.ReadFile(path)
			if err != nil {
				return err
			}
			runs = append(runs, run)
		}

		store, err := trajectory.OpenStore(runsStore)
		if err != nil {
			return err
		}
		defer store.Close()

		for i, run := range runs {
			id, err := store.SaveRun(cmd.Context(), run)
			if err != nil {
				return fmt.Errorf("import %s: %w", args[i], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s as run %s\n", args[i], id)
		}
		return nil
	},
}

func init() {
	runsCmd.PersistentFlags().StringVar(&runsStore, "store", ".", "Directory holding the run database")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd, runsImportCmd)
	rootCmd.AddCommand(runsCmd)
}
