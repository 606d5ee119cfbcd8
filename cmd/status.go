package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/persist"
)

// statusView is the JSON document printed by the status command and served
// by GET /state.
type statusView struct {
	Account  string               `json:"account"`
	Origin   model.SaveOrigin     `json:"origin,omitempty"`
	Leads    int                  `json:"leads"`
	Context  *model.SearchContext `json:"context,omitempty"`
	Workflow model.WorkflowState  `json:"workflow"`
	Stage    string               `json:"stage"`
	Backup   persist.BackupStatus `json:"backup"`
}

func currentStatus(env *pipelineEnv) statusView {
	wf := env.Pipeline.Workflow()
	return statusView{
		Account:  env.Store.Account(),
		Origin:   env.Restored.Origin,
		Leads:    len(env.Pipeline.Leads()),
		Context:  env.Pipeline.Context(),
		Workflow: wf,
		Stage:    wf.Stage.String(),
		Backup:   env.Pipeline.BackupStatus(),
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the restored search context, workflow stage, and backup status",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), "local")
		if err != nil {
			return err
		}
		defer env.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(currentStatus(env)), "encode status")
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
