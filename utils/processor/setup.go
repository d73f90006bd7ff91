package processor

import (
	"fmt"
	"net/http"

	"github.com/kris-hansen/sheetsmith/utils/config"
	"github.com/kris-hansen/sheetsmith/utils/fallback"
	"github.com/kris-hansen/sheetsmith/utils/jobstore"
	"github.com/kris-hansen/sheetsmith/utils/models"
	"go.uber.org/zap"
)

// NewFromConfig wires an orchestrator from the loaded configuration, keeping
// jobs under jobsDir
func NewFromConfig(cfg *config.Config, jobsDir string, logger *zap.Logger) (*Orchestrator, error) {
	store, err := jobstore.Open(jobsDir)
	if err != nil {
		return nil, err
	}

	cat, err := fallback.Load(cfg.Fallback.CataloguePath)
	if err != nil {
		return nil, fmt.Errorf("error loading fallback rules: %w", err)
	}
	config.VerboseLog("Using fallback catalogue %s (%s)", cat.Name, cat.Version)

	// The proposer client deadline comes from the context, not the transport
	proposer, err := models.NewProposerFromConfig(cfg.Proposer, &http.Client{})
	if err != nil {
		return nil, err
	}
	if !proposer.Enabled() {
		config.VerboseLog("No plan proposer configured, every job uses the fallback rules")
	}

	return New(Options{
		Store:    store,
		Proposer: proposer,
		Fallback: fallback.New(cat),
		Pipeline: cfg.Pipeline,
		Logger:   logger,
	})
}
