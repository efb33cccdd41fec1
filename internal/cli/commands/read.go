package commands

import (
	"github.com/leapstack-labs/harmonize/internal/engine"
	"github.com/spf13/cobra"
)

// NewReadCommand creates the read command.
func NewReadCommand() *cobra.Command {
	var entities []string

	cmd := &cobra.Command{
		Use:   "read <table> [variable...]",
		Short: "Read variable values of a table",
		Long: `Read the values of variables, derived ones included, for the entities of a
table. Without variable names every variable of the table is read.`,
		Example: `  harmonize read cohort.derived AGE AGE_NEXT
  harmonize read medications --entity 1 --output csv`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			g, err := readGrid(cmd, cmdCtx.Engine, args[0], args[1:], entities)
			if err != nil {
				return err
			}
			return cmdCtx.Render(cmd, g)
		},
	}

	cmd.Flags().StringSliceVarP(&entities, "entity", "e", nil, "Entity identifiers to read (default: all)")

	return cmd
}

func readGrid(cmd *cobra.Command, eng *engine.Engine, tableName string, names, entities []string) (*grid, error) {
	table, err := eng.Table(tableName)
	if err != nil {
		return nil, err
	}
	f, err := eng.Read(cmd.Context(), table, names, engine.Options{Entities: entities})
	if err != nil {
		return nil, err
	}

	g := newGrid("id")
	for _, v := range f.Variables {
		g.header = append(g.header, v.Name)
	}
	for i, entity := range f.Entities {
		cells := make([]any, 0, len(f.Variables)+1)
		cells = append(cells, entity.Identifier)
		for _, v := range f.Rows[i] {
			cells = append(cells, cell(v))
		}
		g.append(cells...)
	}
	return g, nil
}
