package main

import (
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/copyleftdev/dro/internal/checkpoint"
	"github.com/copyleftdev/dro/internal/controller"
	"github.com/copyleftdev/dro/internal/settings"
)

var (
	initCheckpoint string
	initSeed       uint64
	initScale      float64
	initForce      bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Inspect or bootstrap controller checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list <dir>",
	Short: "List the checkpoints recorded in a save directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		paths, err := checkpoint.List(dir)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(paths) == 0 {
			fmt.Fprintf(out, "No checkpoints in %s\n", dir)
			return nil
		}
		// A dangling manifest still lists its entries; none is marked latest.
		latest, _ := checkpoint.Latest(dir)

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHECKPOINT\tSTEP\tHIDDEN\tLAYERS\tLATEST")
		for _, path := range paths {
			name := filepath.Base(path)
			params, step, err := checkpoint.Load(path)
			if err != nil {
				fmt.Fprintf(w, "%s\t-\t-\t-\t%t\n", name, path == latest)
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%t\n", name, step, params.Shape.Hidden, params.Shape.Layers, path == latest)
		}
		return w.Flush()
	},
}

var checkpointsInitCmd = &cobra.Command{
	Use:   "init <config>",
	Short: "Write an untrained controller checkpoint sized for a settings file",
	Long: `Draws random controller weights with the shape the settings file asks for
(num_params, hidden_size, num_layers, reuse) and saves them as step 0 in the
checkpoint directory, so that run can be exercised before a trained controller
exists. The weights are not a trained optimizer.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := initController(args[0], initCheckpoint, initSeed, initScale, initForce)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote untrained checkpoint %s\n", path)
		return nil
	},
}

// initController saves random weights shaped by the settings at configPath
// into dir, or into the settings' save_path when dir is empty. An existing
// checkpoint is kept unless force is set.
func initController(configPath, dir string, seed uint64, scale float64, force bool) (string, error) {
	s, err := settings.Load(configPath)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = s.SavePath
	}
	if !force {
		if latest, err := checkpoint.Latest(dir); err == nil {
			return "", fmt.Errorf("%s already holds checkpoint %s (use --force to replace it)", dir, filepath.Base(latest))
		}
	}
	if scale <= 0 {
		return "", fmt.Errorf("weight scale must be positive, got %g", scale)
	}
	if seed == 0 {
		seed = rand.Uint64()
	}
	params, err := controller.RandomParams(s.ControllerShape(), scale, rand.NewPCG(seed, seed>>1|1))
	if err != nil {
		return "", err
	}
	return checkpoint.Save(dir, 0, params)
}

func init() {
	checkpointsInitCmd.Flags().StringVar(&initCheckpoint, "checkpoint", "", "Checkpoint directory (default: save_path from the settings)")
	checkpointsInitCmd.Flags().Uint64Var(&initSeed, "seed", 0, "Seed for the random weights (default: random)")
	checkpointsInitCmd.Flags().Float64Var(&initScale, "scale", 0.1, "Standard deviation of the random weights")
	checkpointsInitCmd.Flags().BoolVar(&initForce, "force", false, "Replace an existing latest checkpoint")
	checkpointsCmd.AddCommand(checkpointsListCmd, checkpointsInitCmd)
	rootCmd.AddCommand(checkpointsCmd)
}
