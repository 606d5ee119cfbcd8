package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospect-cli/internal/ingest"
	"github.com/sells-group/prospect-cli/internal/model"
)

var (
	searchQuery       string
	searchLocation    string
	searchType        string
	searchCount       int
	searchAppend      bool
	searchReqPhone    bool
	searchReqWebsite  bool
	searchReqEmail    bool
	searchMinRating   float64
	searchContextFile string
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Stream leads for a query into the working set",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sc, err := buildSearchContext(cmd)
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "search")
		if err != nil {
			return err
		}
		defer env.Close()

		mode := model.ModeReplace
		if searchAppend {
			mode = model.ModeAppend
		}

		res, err := env.Pipeline.RunSearch(ctx, sc, mode, func(u ingest.Update) {
			switch u.Kind {
			case ingest.UpdateStatus:
				fmt.Fprintf(os.Stderr, "status: %s (attempt %d)\n", u.Status, u.Attempt)
			case ingest.UpdateProgress:
				fmt.Fprintf(os.Stderr, "progress: %.0f%% (%d received)\n", u.Percent, u.Received)
			}
		})
		if err != nil {
			return err
		}

		zap.L().Info("search complete",
			zap.String("outcome", string(res.Outcome)),
			zap.Int("count", res.Count),
			zap.Int("requested", res.Requested),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return eris.Wrap(err, "encode result")
		}
		if res.Outcome == model.OutcomeFailed {
			return eris.Errorf("search failed: %s", res.Message)
		}
		return nil
	},
}

// buildSearchContext reads the optional context file and applies flags that
// were set explicitly on top of it.
func buildSearchContext(cmd *cobra.Command) (model.SearchContext, error) {
	var sc model.SearchContext
	if searchContextFile != "" {
		data, err := os.ReadFile(searchContextFile)
		if err != nil {
			return sc, eris.Wrap(err, "read context file")
		}
		if err := yaml.Unmarshal(data, &sc); err != nil {
			return sc, eris.Wrap(err, "parse context file")
		}
	}

	flags := cmd.Flags()
	if flags.Changed("query") {
		sc.Query = searchQuery
	}
	if flags.Changed("location") {
		sc.Location = searchLocation
	}
	if flags.Changed("type") || sc.SearchType == "" {
		sc.SearchType = model.SearchType(searchType)
	}
	if flags.Changed("count") {
		sc.RequestedCount = searchCount
	}
	if flags.Changed("require-phone") {
		sc.Filters.RequirePhone = searchReqPhone
	}
	if flags.Changed("require-website") {
		sc.Filters.RequireWebsite = searchReqWebsite
	}
	if flags.Changed("require-email") {
		sc.Filters.RequireEmail = searchReqEmail
	}
	if flags.Changed("min-rating") {
		sc.Filters.MinRating = searchMinRating
	}

	switch sc.SearchType {
	case model.SearchPlaces, model.SearchCompanies:
	default:
		return sc, eris.Errorf("unknown search type %q", sc.SearchType)
	}
	if sc.Query == "" {
		return sc, eris.New("--query or a context file with a query is required")
	}
	return sc, nil
}

func init() {
	f := searchCmd.Flags()
	f.StringVar(&searchQuery, "query", "", "what to search for, e.g. \"plumbers\"")
	f.StringVar(&searchLocation, "location", "", "where to search, e.g. \"Austin, TX\"")
	f.StringVar(&searchType, "type", string(model.SearchPlaces), "search type: places or companies")
	f.IntVar(&searchCount, "count", 0, "number of leads to request (default from config)")
	f.BoolVar(&searchAppend, "append", false, "add to the current set instead of replacing it")
	f.BoolVar(&searchReqPhone, "require-phone", false, "keep only leads with a phone number")
	f.BoolVar(&searchReqWebsite, "require-website", false, "keep only leads with a website")
	f.BoolVar(&searchReqEmail, "require-email", false, "keep only leads with an email")
	f.Float64Var(&searchMinRating, "min-rating", 0, "minimum rating to keep")
	f.StringVar(&searchContextFile, "context-file", "", "YAML file with a saved search context")
	rootCmd.AddCommand(searchCmd)
}
