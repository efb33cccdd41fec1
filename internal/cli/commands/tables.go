package commands

import (
	"github.com/leapstack-labs/harmonize/internal/engine"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/spf13/cobra"
)

// NewTablesCommand creates the tables command.
func NewTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables and views of every datasource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			return cmdCtx.Render(cmd, tablesGrid(cmdCtx.Engine))
		},
	}
}

func tablesGrid(eng *engine.Engine) *grid {
	g := newGrid("table", "entity_type", "variables", "derived")
	for _, t := range eng.Tables() {
		derived := 0
		for _, v := range t.Variables() {
			if v.IsDerived() {
				derived++
			}
		}
		g.append(core.QualifiedName(t), t.EntityType(), len(t.Variables()), derived)
	}
	return g
}
