package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kris-hansen/sheetsmith/utils/artifact"
	"github.com/kris-hansen/sheetsmith/utils/display"
	"github.com/kris-hansen/sheetsmith/utils/fileutil"
	"github.com/kris-hansen/sheetsmith/utils/processor"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var transformIdeal string
var transformRaw []string
var transformInstructions string
var transformOut string
var transformJobsDir string
var transformForce bool

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Standardize raw exports into the ideal template",
	Long: `Run the standardization pipeline locally. Each raw file becomes its own job,
using the same ideal template and instructions. Jobs run in parallel up to
pipeline.maxConcurrentJobs.

The filled workbook, transform log and summary are copied to --out. With more
than one raw file each job gets a subdirectory named after its raw file. The
job working directories stay under the jobs directory for audit.`,
	Example: `  # One export
  sheetsmith transform --ideal ideal.xlsx --raw export.csv --instructions notes.docx

  # Several exports, results under ./standardized/<name>/
  sheetsmith transform --ideal ideal.xlsx --raw jan.csv --raw feb.csv \
    --instructions notes.txt --out ./standardized`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jobsDir := cfg.Server.JobsDir
		if transformJobsDir != "" {
			dir, err := fileutil.ExpandPath(transformJobsDir)
			if err != nil {
				return fmt.Errorf("invalid jobs directory: %w", err)
			}
			jobsDir = dir
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		orch, err := processor.NewFromConfig(cfg, jobsDir, logger)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		st := display.NewStyler(display.DefaultStyleConfig(out))
		spinner := display.NewSpinner(cmd.ErrOrStderr())
		if len(transformRaw) > 1 {
			spinner.Disable()
		}
		spinner.Start("Standardizing " + filepath.Base(transformRaw[0]))

		dirs := outputDirs(transformOut, transformRaw)
		results := make([]transformResult, len(transformRaw))
		g, ctx := errgroup.WithContext(cmd.Context())
		g.SetLimit(cfg.Pipeline.MaxConcurrentJobs)
		for i, raw := range transformRaw {
			g.Go(func() error {
				results[i] = runTransform(ctx, orch, raw, dirs[i])
				// one failed job does not stop the others
				return nil
			})
		}
		g.Wait()
		spinner.Stop()

		failed := 0
		for i, r := range results {
			if r.err != nil {
				failed++
			}
			if r.job == nil {
				fmt.Fprintf(out, "%s %s: %v\n", st.ErrorIcon(), transformRaw[i], r.err)
				continue
			}
			fmt.Fprintln(out, st.JobReport(filepath.Base(transformRaw[i]), r.job, r.summary, r.output))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d jobs failed", failed, len(transformRaw))
		}
		return nil
	},
}

type transformResult struct {
	job     *processor.Job
	summary *artifact.Summary
	output  string
	err     error
}

// outputDirs places each job's artifacts. Several raw files get one
// subdirectory each; repeated names get a numeric suffix.
func outputDirs(base string, raws []string) []string {
	dirs := make([]string, len(raws))
	if len(raws) == 1 {
		dirs[0] = base
		return dirs
	}
	seen := make(map[string]bool)
	for i, raw := range raws {
		name := filepath.Base(raw)
		name = fileutil.SanitizeFilename(strings.TrimSuffix(name, filepath.Ext(name)))
		dir := name
		for n := 2; seen[strings.ToLower(dir)]; n++ {
			dir = fmt.Sprintf("%s-%d", name, n)
		}
		seen[strings.ToLower(dir)] = true
		dirs[i] = filepath.Join(base, dir)
	}
	return dirs
}

func runTransform(ctx context.Context, orch *processor.Orchestrator, raw, outDir string) transformResult {
	var files []*os.File
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	open := func(path string) (processor.Upload, error) {
		f, err := os.Open(path)
		if err != nil {
			return processor.Upload{}, err
		}
		files = append(files, f)
		return processor.Upload{Name: filepath.Base(path), Body: f}, nil
	}

	var sub processor.Submission
	var err error
	if sub.Ideal, err = open(transformIdeal); err != nil {
		return transformResult{err: err}
	}
	if sub.Raw, err = open(raw); err != nil {
		return transformResult{err: err}
	}
	if sub.Instructions, err = open(transformInstructions); err != nil {
		return transformResult{err: err}
	}

	job, err := orch.Process(ctx, sub)
	if err != nil {
		return transformResult{job: job, err: err}
	}
	summary, err := orch.Summary(job.ID)
	if err != nil {
		return transformResult{job: job, err: err}
	}
	output, err := exportArtifacts(orch, job.ID, outDir, transformForce)
	return transformResult{job: job, summary: summary, output: output, err: err}
}

// exportArtifacts copies the published artifacts of a ready job to dir and
// returns the workbook path. Existing files are kept unless force is set.
func exportArtifacts(orch *processor.Orchestrator, id, dir string, force bool) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("error creating output directory: %w", err)
	}
	var workbook string
	for _, k := range artifact.Kinds() {
		data, err := orch.Artifact(id, k)
		if err != nil {
			return "", err
		}
		path := filepath.Join(dir, k.FileName())
		if force {
			err = os.WriteFile(path, data, 0644)
		} else {
			_, err = fileutil.WriteOnce(path, bytes.NewReader(data))
			if errors.Is(err, fileutil.ErrSlotTaken) {
				err = fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
		if err != nil {
			return "", err
		}
		if k == artifact.KindIdeal {
			workbook = path
		}
	}
	return workbook, nil
}

func init() {
	transformCmd.Flags().StringVar(&transformIdeal, "ideal", "", "ideal template (xlsx or csv)")
	transformCmd.Flags().StringArrayVar(&transformRaw, "raw", nil, "raw export (xlsx, csv or tsv); repeat for several")
	transformCmd.Flags().StringVar(&transformInstructions, "instructions", "", "instructions file (txt, md, docx, pdf, csv or xlsx)")
	transformCmd.Flags().StringVarP(&transformOut, "out", "o", ".", "output directory")
	transformCmd.Flags().StringVar(&transformJobsDir, "jobs-dir", "", "directory for job working directories (overrides config)")
	transformCmd.Flags().BoolVarP(&transformForce, "force", "f", false, "overwrite existing output files")
	transformCmd.MarkFlagRequired("ideal")
	transformCmd.MarkFlagRequired("raw")
	transformCmd.MarkFlagRequired("instructions")
	rootCmd.AddCommand(transformCmd)
}
