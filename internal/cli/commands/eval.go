package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/leapstack-labs/harmonize/internal/engine"
	"github.com/spf13/cobra"
)

// EvalOptions holds options for the eval command.
type EvalOptions struct {
	Entities []string
	File     string
}

// NewEvalCommand creates the eval command.
func NewEvalCommand() *cobra.Command {
	opts := &EvalOptions{}

	cmd := &cobra.Command{
		Use:   "eval <table> [script]",
		Short: "Evaluate a script for the entities of a table",
		Long: `Evaluate a script once per entity of a table and print one value per entity.

The script is an expression, or a program assigning its value to "result".
It is taken from the argument, from --file, or from piped stdin. Entities
for which the script fails are reported with their error; the command then
exits with an error.`,
		Example: `  # Age next year for every participant
  harmonize eval cohort.participants "$('AGE') + 1"

  # Join the age of the mother
  harmonize eval participants "$join('mothers:MOTHER_AGE', 'MOTHER_ID')" --entity 1 --entity 2

  # Row-wise evaluation as JSON
  harmonize eval participants -f bmi.star --mode row --output json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := scriptSource(cmd, args[1:], opts.File)
			if err != nil {
				return err
			}
			return runEval(cmd, args[0], source, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Entities, "entity", "e", nil, "Entity identifiers to evaluate (default: all)")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Read the script from a file")

	return cmd
}

// scriptSource returns the script from the argument, the file or stdin.
func scriptSource(cmd *cobra.Command, args []string, file string) (string, error) {
	switch {
	case len(args) > 0 && file != "":
		return "", errors.New("give the script as argument or with --file, not both")
	case len(args) > 0:
		return args[0], nil
	case file != "":
		content, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		return string(content), nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		return "", errors.New("no script given")
	}
	content, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	if len(content) == 0 {
		return "", errors.New("no script given")
	}
	return string(content), nil
}

func runEval(cmd *cobra.Command, tableName, source string, opts *EvalOptions) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	g, failed, err := evalGrid(cmd, cmdCtx.Engine, tableName, source, opts.Entities)
	if err != nil {
		return err
	}
	if err := cmdCtx.Render(cmd, g); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("script failed for %d of %d entities", failed, len(g.rows))
	}
	return nil
}

// evalGrid evaluates a script and lays the results out by entity. The
// error column is present only when an entity failed.
func evalGrid(cmd *cobra.Command, eng *engine.Engine, tableName, source string, entities []string) (*grid, int, error) {
	table, err := eng.Table(tableName)
	if err != nil {
		return nil, 0, err
	}
	script, err := eng.Compile("eval", source)
	if err != nil {
		return nil, 0, err
	}
	results, err := eng.Eval(cmd.Context(), table, script, engine.Options{Entities: entities})
	if err != nil {
		return nil, 0, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	g := newGrid("id", "value")
	if failed > 0 {
		g.header = append(g.header, "error")
	}
	for _, r := range results {
		cells := []any{r.Entity.Identifier, cell(r.Value)}
		if r.Err != nil {
			cells[1] = nil
		}
		if failed > 0 {
			var msg any
			if r.Err != nil {
				msg = r.Err.Error()
			}
			cells = append(cells, msg)
		}
		g.append(cells...)
	}
	return g, failed, nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
