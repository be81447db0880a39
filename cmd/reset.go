package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/posecast/internal/utils"
	"github.com/andresmejia3/posecast/internal/worker"
)

var (
	resetDB    bool
	resetPipes bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (recorded sessions, stale estimator pipes)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetPipes {
			resetDB = true
			resetPipes = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if confirm(os.Stdout, reader, "⚠️  Are you sure you want to DROP all recorded sessions?") {
				if err := openDB(cmd.Context()); err != nil {
					return err
				}
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetPipes {
			if confirm(os.Stdout, reader, "⚠️  Are you sure you want to delete the estimator pipes?") {
				fmt.Println("🗑️  Clearing Estimator Pipes...")
				pc := cfg.Estimator.Pipe
				frames, points := worker.Config{Dir: pc.Dir, FramePipe: pc.FramePipe, PointsPipe: pc.PointsPipe}.Paths()
				for _, p := range []string{frames, points} {
					if err := utils.RemoveIfExists(p); err != nil {
						fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", p, err)
					}
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "sessions", false, "Drop recorded sessions from PostgreSQL")
	resetCmd.Flags().BoolVar(&resetPipes, "pipes", false, "Remove leftover estimator FIFOs")
	rootCmd.AddCommand(resetCmd)
}

func confirm(out io.Writer, r *bufio.Reader, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}
