package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/posecast/internal/store"
	"github.com/andresmejia3/posecast/internal/utils"
)

var sessionsCmd = &cobra.Command{
	Use:         "sessions [session_id]",
	Short:       "List recorded sessions, or dump one session's poses as JSON lines",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"db": dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		if len(args) == 1 {
			poses, err := DB.SessionPoses(ctx, args[0])
			if err != nil {
				utils.ShowError("Failed to load session", err, nil)
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			for _, p := range poses {
				if err := enc.Encode(p); err != nil {
					return err
				}
			}
			return nil
		}

		sessions, err := DB.ListSessions(ctx)
		if err != nil {
			utils.ShowError("Failed to list sessions", err, nil)
			return err
		}
		printSessions(os.Stdout, sessions)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}

func printSessions(out io.Writer, sessions []store.SessionSummary) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSOURCE\tBACKEND\tSTARTED\tDURATION\tCYCLES\tKEYPOINTS")
	fmt.Fprintln(w, "--\t----\t------\t-------\t-------\t--------\t------\t---------")
	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = utils.FmtDuration(s.EndedAt.Sub(s.StartedAt))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			s.ID, s.Name, s.Source, s.Backend,
			s.StartedAt.Local().Format("2006-01-02 15:04"), duration, s.Cycles, s.Keypoints)
	}
	w.Flush()
}
