package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/posecast/internal/store"
	"github.com/andresmejia3/posecast/internal/utils"
)

var labelCmd = &cobra.Command{
	Use:         "label <session_id> <name>",
	Short:       "Assign a name to a recorded session",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{"db": dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		id, name := args[0], args[1]

		if err := DB.RenameSession(cmd.Context(), id, name); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("no session with id %s", id)
			}
			utils.ShowError("Failed to label session", err, nil)
			return err
		}

		fmt.Printf("✅ Session %s labeled as '%s'\n", id, name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}
