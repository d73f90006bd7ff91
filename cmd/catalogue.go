package cmd

import (
	"fmt"
	"os"

	"github.com/kris-hansen/sheetsmith/utils/display"
	"github.com/kris-hansen/sheetsmith/utils/fallback"
	"github.com/kris-hansen/sheetsmith/utils/plan"
	"github.com/kris-hansen/sheetsmith/utils/sheet"
	"github.com/spf13/cobra"
)

var catalogueIdeal string
var catalogueRaw string

var catalogueCmd = &cobra.Command{
	Use:   "catalogue",
	Short: "Print the active fallback rules",
	Long: `Print the fallback rule catalogue in use: the built-in one, or the file named
by fallback.cataloguePath in the configuration.

With --ideal and --raw, print the steps the rules would apply to that pair of
sheets instead.`,
	Example: `  # Show the rules
  sheetsmith catalogue

  # Dry-run the rules against a template and an export
  sheetsmith catalogue --ideal ideal.xlsx --raw export.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		cat, err := fallback.Load(cfg.Fallback.CataloguePath)
		if err != nil {
			return err
		}

		if catalogueIdeal == "" && catalogueRaw == "" {
			if cfg.Fallback.CataloguePath == "" {
				_, err = out.Write(fallback.BuiltinSource())
				return err
			}
			data, err := os.ReadFile(cfg.Fallback.CataloguePath)
			if err != nil {
				return fmt.Errorf("error reading catalogue: %w", err)
			}
			_, err = out.Write(data)
			return err
		}
		if catalogueIdeal == "" || catalogueRaw == "" {
			return fmt.Errorf("--ideal and --raw must be given together")
		}

		ideal, err := sheet.Load(catalogueIdeal)
		if err != nil {
			return err
		}
		raw, err := sheet.Load(catalogueRaw)
		if err != nil {
			return err
		}
		idealSchema := sheet.Inspect(ideal, cfg.Pipeline.SampleSize)
		rawSchema := sheet.Inspect(raw, cfg.Pipeline.SampleSize)

		engine := fallback.New(cat)
		v := plan.Validate(engine.Plan(idealSchema, rawSchema), idealSchema, rawSchema, cat)
		st := display.NewStyler(display.DefaultStyleConfig(out))

		fmt.Fprintf(out, "Catalogue %s (%s)\n", st.Bold(cat.Name), cat.Version)
		claimed := make(map[string]bool)
		for _, c := range v.Steps {
			if !c.Valid() {
				fmt.Fprintf(out, "  %s %s\n", st.ErrorIcon(), c.Reason)
				continue
			}
			claimed[c.Step.TargetColumn()] = true
			fmt.Fprintf(out, "  %s %s\n", st.SuccessIcon(), plan.Describe(c.Step))
		}
		for _, name := range idealSchema.Names() {
			if !claimed[name] {
				fmt.Fprintf(out, "  %s %s\n", st.Muted("-"), st.Muted(name+": no rule"))
			}
		}
		return nil
	},
}

func init() {
	catalogueCmd.Flags().StringVar(&catalogueIdeal, "ideal", "", "ideal template to dry-run against")
	catalogueCmd.Flags().StringVar(&catalogueRaw, "raw", "", "raw export to dry-run against")
	rootCmd.AddCommand(catalogueCmd)
}
