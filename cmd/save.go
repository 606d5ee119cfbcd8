package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/persist"
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Back up the working set to the remote tier",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), "local")
		if err != nil {
			return err
		}
		defer env.Close()

		report := env.Pipeline.Save(cmd.Context())
		if report.Local != nil {
			return eris.Wrap(report.Local, "save locally")
		}
		switch {
		case report.Remote == nil:
			zap.L().Info("saved", zap.Int("leads", report.Leads), zap.Time("saved_at", report.SavedAt))
			fmt.Printf("saved %d leads\n", report.Leads)
		case eris.Is(report.Remote, persist.ErrNotEligible):
			fmt.Println("nothing to back up: the working set has no real leads")
		default:
			return eris.Wrap(report.Remote, "remote backup")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(saveCmd)
}
