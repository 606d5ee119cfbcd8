package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/export"
)

var (
	exportOut      string
	exportFormat   string
	exportSelected bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the working set to xlsx, csv, or json",
	RunE: func(cmd *cobra.Command, args []string) error {
		name := exportFormat
		if name == "" {
			name = filepath.Ext(exportOut)
		}
		if name == "" {
			name = string(export.FormatJSON)
		}
		format, err := export.ParseFormat(name)
		if err != nil {
			return err
		}

		env, err := initPipeline(cmd.Context(), "local")
		if err != nil {
			return err
		}
		defer env.Close()

		leads := env.Pipeline.Leads()
		if exportSelected {
			leads = env.Pipeline.Targets()
		}

		var w io.Writer = os.Stdout
		if exportOut != "" && exportOut != "-" {
			f, err := os.Create(exportOut)
			if err != nil {
				return eris.Wrap(err, "create export file")
			}
			defer f.Close()
			w = f
		}

		if err := export.Write(w, format, leads); err != nil {
			return err
		}
		zap.L().Info("exported leads",
			zap.Int("count", len(leads)),
			zap.String("format", string(format)),
			zap.String("out", exportOut),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "xlsx, csv, or json (default from --out extension)")
	exportCmd.Flags().BoolVar(&exportSelected, "selected", false, "export only the selected leads when a selection exists")
	rootCmd.AddCommand(exportCmd)
}
