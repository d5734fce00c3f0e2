package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/peergrade/peergrade/pkg/data"
	"github.com/peergrade/peergrade/pkg/export"
	"github.com/peergrade/peergrade/pkg/vancouver"
)

var (
	outDirFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Directory for the exported reports (default: app home dir)",
	}

	gradeCmd = &cli.Command{
		Name:    "grade",
		Aliases: []string{"g"},
		Usage:   "Run the consensus algorithm and export final grades",
		UsageText: `peergrade grade                  # reports land in ~/.peergrade
   peergrade grade --out ./reports  # explicit output dir`,
		Action: cmdGrade,
		Flags: []cli.Flag{
			outDirFlag,
		},
	}
)

// GradeReport is the grade command output.
type GradeReport struct {
	Summary  *vancouver.Summary `json:"summary" yaml:"summary"`
	JSONPath string             `json:"json_path" yaml:"jsonPath"`
	XLSXPath string             `json:"xlsx_path" yaml:"xlsxPath"`
	Duration string             `json:"duration" yaml:"duration"`
}

func cmdGrade(c *cli.Context) error {
	start := time.Now()
	cfg := getConfig(c)

	outDir := cfg.Home
	if c.IsSet(outDirFlag.Name) {
		outDir = c.String(outDirFlag.Name)
	}

	matrix, err := data.LoadMatrix(cfg.DB, cfg.Conf.Scale)
	if err != nil {
		return fmt.Errorf("loading evaluations: %w", err)
	}

	res, err := vancouver.Compute(matrix, cfg.Conf.Algorithm)
	if err != nil {
		return fmt.Errorf("computing consensus: %w", err)
	}

	if err := data.SaveResult(cfg.DB, res); err != nil {
		return fmt.Errorf("saving results: %w", err)
	}

	grades, err := data.GetGrades(cfg.DB)
	if err != nil {
		return fmt.Errorf("loading grades: %w", err)
	}
	cells, err := data.GetConsensus(cfg.DB)
	if err != nil {
		return fmt.Errorf("loading consensus: %w", err)
	}

	summary := vancouver.Summarize(res)
	results := &export.Results{
		GeneratedAt: time.Now().UTC(),
		Course:      cfg.Conf.Course.Name,
		Exam:        cfg.Conf.Course.Exam,
		Parameters:  cfg.Conf.Algorithm,
		Summary:     &summary,
		Grades:      grades,
		Consensus:   cells,
	}

	jsonPath := filepath.Join(outDir, "results.json")
	if err := export.WriteJSON(jsonPath, results); err != nil {
		return fmt.Errorf("exporting results: %w", err)
	}
	xlsxPath := filepath.Join(outDir, "results.xlsx")
	if err := export.WriteWorkbook(xlsxPath, results); err != nil {
		return fmt.Errorf("exporting workbook: %w", err)
	}

	return encode(&GradeReport{
		Summary:  results.Summary,
		JSONPath: jsonPath,
		XLSXPath: xlsxPath,
		Duration: time.Since(start).Round(time.Millisecond).String(),
	})
}
