package commands

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/harmonize/internal/config"
	"github.com/leapstack-labs/harmonize/internal/engine"
	"github.com/leapstack-labs/harmonize/pkg/core"
	"github.com/spf13/cobra"
)

// historyFileName is kept next to harmonize.yaml.
const historyFileName = ".harmonize_history"

// NewReplCommand creates the repl command.
func NewReplCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repl <table>",
		Short: "Evaluate scripts interactively",
		Long: `Start an interactive session evaluating scripts against a table.

Every line is evaluated for the selected entities and the values are printed.
A line ending with '\' continues on the next line. Type .help for commands.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			return runRepl(cmd, cmdCtx, args[0])
		},
	}
}

// lineReader is the part of readline the session loop uses.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

func runRepl(cmd *cobra.Command, cmdCtx *CommandContext, tableName string) error {
	s, err := newReplSession(cmd, cmdCtx.Engine, tableName)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		HistoryFile:     filepath.Join(cmdCtx.Cfg.Root, historyFileName),
		AutoComplete:    newReplCompleter(cmdCtx.Engine),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(s.out, "harmonize REPL on %s\n", core.QualifiedName(s.table))
	_, _ = fmt.Fprintln(s.out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(s.out)
	return s.run(rl)
}

// replSession is the state of one interactive session.
type replSession struct {
	cmd      *cobra.Command
	eng      *engine.Engine
	table    core.ValueTable
	entities []string
	out      io.Writer
	errOut   io.Writer
}

func newReplSession(cmd *cobra.Command, eng *engine.Engine, tableName string) (*replSession, error) {
	table, err := eng.Table(tableName)
	if err != nil {
		return nil, err
	}
	return &replSession{
		cmd:    cmd,
		eng:    eng,
		table:  table,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}, nil
}

func (s *replSession) prompt() string {
	return fmt.Sprintf("harmonize(%s)> ", s.table.Name())
}

func (s *replSession) run(rl lineReader) error {
	var buf strings.Builder
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			buf.Reset()
			rl.SetPrompt(s.prompt())
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}

		trimmed := strings.TrimSpace(line)
		if buf.Len() == 0 && trimmed == "" {
			continue
		}
		if buf.Len() == 0 && strings.HasPrefix(trimmed, ".") {
			if quit := s.dotCommand(trimmed); quit {
				return nil
			}
			rl.SetPrompt(s.prompt())
			continue
		}

		if strings.HasSuffix(line, `\`) {
			buf.WriteString(strings.TrimSuffix(line, `\`))
			buf.WriteString("\n")
			rl.SetPrompt("    ...> ")
			continue
		}
		buf.WriteString(line)
		source := buf.String()
		buf.Reset()
		rl.SetPrompt(s.prompt())

		if err := s.eval(source); err != nil {
			_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
		}
	}
}

func (s *replSession) eval(source string) error {
	g, failed, err := evalGrid(s.cmd, s.eng, core.QualifiedName(s.table), source, s.entities)
	if err != nil {
		return err
	}
	if err := renderGrid(s.out, s.eng.Config().Output, g); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("script failed for %d of %d entities", failed, len(g.rows))
	}
	return nil
}

// dotCommand runs a session command and reports whether to quit.
func (s *replSession) dotCommand(line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])
	args := parts[1:]
	format := s.eng.Config().Output

	var err error
	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(s.out)

	case ".tables":
		err = renderGrid(s.out, format, tablesGrid(s.eng))

	case ".variables":
		var g *grid
		if g, err = variablesGrid(s.eng, core.QualifiedName(s.table)); err == nil {
			err = renderGrid(s.out, format, g)
		}

	case ".use":
		if len(args) != 1 {
			_, _ = fmt.Fprintln(s.errOut, "Usage: .use <table>")
			return false
		}
		var table core.ValueTable
		if table, err = s.eng.Table(args[0]); err == nil {
			s.table = table
			s.entities = nil
		}

	case ".entity":
		s.entities = args
		if len(args) == 0 {
			_, _ = fmt.Fprintln(s.out, "Evaluating all entities")
		}

	case ".mode":
		if len(args) != 1 || (args[0] != config.ModeRow && args[0] != config.ModeVector) {
			_, _ = fmt.Fprintf(s.errOut, "Usage: .mode %s|%s (current: %s)\n", config.ModeRow, config.ModeVector, s.eng.Config().Mode)
			return false
		}
		s.eng.Config().Mode = args[0]

	default:
		_, _ = fmt.Fprintf(s.errOut, "Unknown command: %s (type .help for commands)\n", command)
	}

	if err != nil {
		_, _ = fmt.Fprintf(s.errOut, "Error: %v\n", err)
	}
	return false
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help             Show this help message
  .tables           List all tables and views
  .variables        Show the variables of the current table
  .use <table>      Switch to another table
  .entity [id...]   Evaluate only these entities; no ids selects all
  .mode row|vector  Switch the evaluation mode
  .quit / .exit     Exit the REPL

Tips:
  - $('VAR') reads a variable, $join('table:VAR', 'ID_VAR') follows an identifier
  - End a line with \ to continue on the next one
  - Tab completion works for commands and table names
`
	_, _ = fmt.Fprintln(w, help)
}

// newReplCompleter completes dot commands and the tables of .use.
func newReplCompleter(eng *engine.Engine) *readline.PrefixCompleter {
	var tables []readline.PrefixCompleterInterface
	for _, t := range eng.Tables() {
		tables = append(tables, readline.PcItem(core.QualifiedName(t)))
	}

	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".tables"),
		readline.PcItem(".variables"),
		readline.PcItem(".use", tables...),
		readline.PcItem(".entity"),
		readline.PcItem(".mode", readline.PcItem(config.ModeRow), readline.PcItem(config.ModeVector)),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
