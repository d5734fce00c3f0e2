package cli

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/peergrade/peergrade/pkg/data"
)

var (
	rosterFlag = &cli.StringFlag{
		Name:     "roster",
		Usage:    "Path to the roster CSV (columns: id, name, email, optional class)",
		Required: true,
	}

	questionsFlag = &cli.StringFlag{
		Name:     "questions",
		Usage:    "Path to the questions CSV (columns: id, optional prompt)",
		Required: true,
	}

	importCmd = &cli.Command{
		Name:    "import",
		Aliases: []string{"i"},
		Usage:   "Import the exam roster and question list",
		UsageText: `peergrade import --roster roster.csv --questions questions.csv
   peergrade import --roster updated.csv --questions questions.csv   # re-import is an upsert`,
		Action: cmdImport,
		Flags: []cli.Flag{
			rosterFlag,
			questionsFlag,
		},
	}
)

// ImportReport is the import command output.
type ImportReport struct {
	Students  *data.RosterImportResult `json:"students" yaml:"students"`
	Questions int                      `json:"questions" yaml:"questions"`
	Duration  string                   `json:"duration" yaml:"duration"`
}

func cmdImport(c *cli.Context) error {
	start := time.Now()
	cfg := getConfig(c)

	students, err := data.ImportRoster(cfg.DB, c.String(rosterFlag.Name))
	if err != nil {
		return fmt.Errorf("importing roster: %w", err)
	}

	questions, err := data.ImportQuestions(cfg.DB, c.String(questionsFlag.Name))
	if err != nil {
		return fmt.Errorf("importing questions: %w", err)
	}

	return encode(&ImportReport{
		Students:  students,
		Questions: len(questions),
		Duration:  time.Since(start).Round(time.Millisecond).String(),
	})
}
