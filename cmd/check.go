package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kris-hansen/sheetsmith/utils/config"
	"github.com/kris-hansen/sheetsmith/utils/display"
	"github.com/kris-hansen/sheetsmith/utils/fallback"
	"github.com/kris-hansen/sheetsmith/utils/models"
	"github.com/spf13/cobra"
)

const checkTimeout = 10 * time.Second

// checkProposer asks the configured provider whether the model is served.
// A disabled proposer passes.
func checkProposer(ctx context.Context) error {
	proposer, err := models.NewProposerFromConfig(cfg.Proposer, &http.Client{})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return proposer.Check(ctx)
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the plan proposer and the fallback rules",
	Long: `Check that the configured local model is being served and that the fallback
rule catalogue loads. Jobs still complete without a model; they use the
fallback rules instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		st := display.NewStyler(display.DefaultStyleConfig(out))
		failed := false

		cat, err := fallback.Load(cfg.Fallback.CataloguePath)
		if err != nil {
			failed = true
			fmt.Fprintf(out, "%s catalogue: %v\n", st.ErrorIcon(), err)
		} else {
			fmt.Fprintf(out, "%s catalogue %s (%s)\n", st.SuccessIcon(), cat.Name, cat.Version)
		}

		if cfg.Proposer.Provider == config.ProviderNone {
			fmt.Fprintf(out, "%s proposer disabled, every job uses the fallback rules\n", st.Warning("-"))
		} else if err := checkProposer(cmd.Context()); err != nil {
			failed = true
			fmt.Fprintf(out, "%s proposer %s/%s: %v\n", st.ErrorIcon(), cfg.Proposer.Provider, cfg.Proposer.Model, err)
		} else {
			fmt.Fprintf(out, "%s proposer %s/%s at %s\n", st.SuccessIcon(), cfg.Proposer.Provider, cfg.Proposer.Model, cfg.Proposer.Endpoint)
		}

		if failed {
			return fmt.Errorf("check failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
