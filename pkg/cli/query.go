package cli

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/peergrade/peergrade/pkg/data"
)

var (
	queryCmd = &cli.Command{
		Name:            "query",
		Aliases:         []string{"q"},
		Usage:           "Query the collected data and grading results",
		HideHelpCommand: true,
		Subcommands: []*cli.Command{
			{
				Name:   "students",
				Usage:  "List the imported roster",
				Action: cmdQueryStudents,
			},
			{
				Name:   "assignments",
				Usage:  "List who reviews whom",
				Action: cmdQueryAssignments,
			},
			{
				Name:   "progress",
				Usage:  "Show collection progress",
				Action: cmdQueryProgress,
			},
			{
				Name:   "grades",
				Usage:  "Show the grade leaderboard from the last run",
				Action: cmdQueryGrades,
			},
			{
				Name:   "summary",
				Usage:  "Show aggregate stats for the last grading run",
				Action: cmdQuerySummary,
			},
			{
				Name:   "sends",
				Usage:  "Show the notification send log",
				Action: cmdQuerySends,
			},
		},
	}
)

func cmdQueryStudents(c *cli.Context) error {
	cfg := getConfig(c)
	students, err := data.GetStudents(cfg.DB)
	if err != nil {
		return fmt.Errorf("loading students: %w", err)
	}
	return encode(students)
}

func cmdQueryAssignments(c *cli.Context) error {
	cfg := getConfig(c)
	assignments, err := data.GetAssignments(cfg.DB)
	if err != nil {
		return fmt.Errorf("loading assignments: %w", err)
	}
	return encode(assignments)
}

func cmdQueryProgress(c *cli.Context) error {
	cfg := getConfig(c)
	p, err := data.GetProgress(cfg.DB)
	if err != nil {
		return fmt.Errorf("loading progress: %w", err)
	}
	return encode(p)
}

func cmdQueryGrades(c *cli.Context) error {
	cfg := getConfig(c)
	grades, err := data.GetGrades(cfg.DB)
	if err != nil {
		return fmt.Errorf("loading grades: %w", err)
	}
	return encode(grades)
}

// RunSummary aggregates the persisted grading run.
type RunSummary struct {
	RunAt            string  `json:"run_at" yaml:"runAt"`
	Targets          int     `json:"targets" yaml:"targets"`
	MeanFinalGrade   float64 `json:"mean_final_grade" yaml:"meanFinalGrade"`
	MeanReputation   float64 `json:"mean_reputation" yaml:"meanReputation"`
	ProtectedRecords int     `json:"protected_records" yaml:"protectedRecords"`
	NoDataRecords    int     `json:"no_data_records" yaml:"noDataRecords"`
	FlooredGrades    int     `json:"floored_grades" yaml:"flooredGrades"`
}

func cmdQuerySummary(c *cli.Context) error {
	cfg := getConfig(c)

	grades, err := data.GetGrades(cfg.DB)
	if err != nil {
		return fmt.Errorf("loading grades: %w", err)
	}
	if len(grades) == 0 {
		return fmt.Errorf("no grading run stored, run grade first")
	}
	cells, err := data.GetConsensus(cfg.DB)
	if err != nil {
		return fmt.Errorf("loading consensus: %w", err)
	}

	s := &RunSummary{
		RunAt:   grades[0].RunAt.Format(time.RFC3339),
		Targets: len(grades),
	}
	for _, g := range grades {
		s.MeanFinalGrade += g.Final
		s.MeanReputation += g.Reputation
		if g.Floored {
			s.FlooredGrades++
		}
	}
	s.MeanFinalGrade /= float64(len(grades))
	s.MeanReputation /= float64(len(grades))
	for _, cell := range cells {
		if cell.Protected {
			s.ProtectedRecords++
		}
		if cell.NoData {
			s.NoDataRecords++
		}
	}
	return encode(s)
}

func cmdQuerySends(c *cli.Context) error {
	cfg := getConfig(c)
	log, err := data.GetSendLog(cfg.DB)
	if err != nil {
		return fmt.Errorf("loading send log: %w", err)
	}
	return encode(log)
}
