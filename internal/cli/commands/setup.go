package commands

import (
	"errors"
	"log/slog"

	"github.com/leapstack-labs/harmonize/internal/config"
	"github.com/leapstack-labs/harmonize/internal/engine"
	"github.com/spf13/cobra"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Engine *engine.Engine
}

// NewCommandContext builds the engine from the configuration stored on the
// command context. The returned cleanup function closes it.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cfg, ok := config.FromContext(cmd.Context())
	if !ok {
		return nil, nil, errors.New("configuration not loaded")
	}
	logger := config.GetLogger(cmd.Context())

	eng, err := engine.New(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := eng.Close(); err != nil {
			logger.Warn("closing datasources", "error", err)
		}
	}
	return &CommandContext{Cfg: cfg, Logger: logger, Engine: eng}, cleanup, nil
}

// Render writes a grid in the configured output format.
func (c *CommandContext) Render(cmd *cobra.Command, g *grid) error {
	return renderGrid(cmd.OutOrStdout(), c.Cfg.Output, g)
}
