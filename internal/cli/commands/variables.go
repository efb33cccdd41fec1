package commands

import (
	"strings"

	"github.com/leapstack-labs/harmonize/internal/engine"
	"github.com/spf13/cobra"
)

// NewVariablesCommand creates the variables command.
func NewVariablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "variables <table>",
		Short: "Show the variables of a table",
		Long: `Show the metadata of every variable of a table: value type, repeatability,
unit, occurrence group, categories and, for derived variables, the script and
the derived variables it depends on. Missing categories are marked with '*'.`,
		Example: `  harmonize variables cohort.participants
  harmonize variables derived --output json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			g, err := variablesGrid(cmdCtx.Engine, args[0])
			if err != nil {
				return err
			}
			return cmdCtx.Render(cmd, g)
		},
	}
}

func variablesGrid(eng *engine.Engine, tableName string) (*grid, error) {
	table, err := eng.Table(tableName)
	if err != nil {
		return nil, err
	}

	g := newGrid("name", "type", "repeatable", "unit", "occurrence_group", "categories", "script", "depends_on")
	for _, v := range table.Variables() {
		categories := make([]string, len(v.Categories))
		for i, c := range v.Categories {
			categories[i] = c.Name
			if c.Missing {
				categories[i] += "*"
			}
		}
		g.append(v.Name, v.ValueType.Name(), v.Repeatable, v.Unit, v.OccurrenceGroup,
			strings.Join(categories, ","), v.Script, strings.Join(eng.Dependencies(table, v.Name), ","))
	}
	return g, nil
}
