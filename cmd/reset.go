package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-cli/internal/persist"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the working set and workflow state from every tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !resetYes {
			return eris.New("reset deletes local and remote data; pass --yes to confirm")
		}

		env, err := initPipeline(cmd.Context(), "local")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.Reset(cmd.Context()); err != nil {
			if eris.Is(err, persist.ErrRemoteDelete) {
				fmt.Println("local data cleared; remote backup could not be deleted and may reappear on next load")
				return nil
			}
			return err
		}
		fmt.Println("all data cleared")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm deletion")
	rootCmd.AddCommand(resetCmd)
}
