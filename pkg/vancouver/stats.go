package vancouver

import "math"

// Summary aggregates final-state diagnostics for the export and
// report stages. It is a plain value; producing it never mutates the
// result it reads.
type Summary struct {
	Targets          int     `json:"targets" yaml:"targets"`
	Evaluators       int     `json:"evaluators" yaml:"evaluators"`
	MeanFinalGrade   float64 `json:"mean_final_grade" yaml:"meanFinalGrade"`
	StdDevFinalGrade float64 `json:"std_dev_final_grade" yaml:"stdDevFinalGrade"`
	MeanConsensus    float64 `json:"mean_consensus" yaml:"meanConsensus"`
	MeanReputation   float64 `json:"mean_reputation" yaml:"meanReputation"`
	ProtectedRecords int     `json:"protected_records" yaml:"protectedRecords"`
	NoDataRecords    int     `json:"no_data_records" yaml:"noDataRecords"`
	FlooredGrades    int     `json:"floored_grades" yaml:"flooredGrades"`
	Converged        bool    `json:"converged" yaml:"converged"`
	Iterations       int     `json:"iterations" yaml:"iterations"`
}

// Summarize reduces a grading result to its aggregate diagnostics.
// It never fails given a result produced by Compute.
func Summarize(r *Result) Summary {
	s := Summary{
		Converged:  r.Converged,
		Iterations: r.Iterations,
		Targets:    len(r.Grades),
		Evaluators: len(r.Reputations),
	}

	var finals []float64
	for _, g := range r.Grades {
		finals = append(finals, g.Final)
		if g.Floored {
			s.FlooredGrades++
		}
	}
	s.MeanFinalGrade = mean(finals)
	s.StdDevFinalGrade = stdDev(finals, s.MeanFinalGrade)

	var scores []float64
	for _, byQuestion := range r.Records {
		for _, rec := range byQuestion {
			if rec == nil {
				continue
			}
			if rec.NoData {
				s.NoDataRecords++
				continue
			}
			if rec.Protected {
				s.ProtectedRecords++
			}
			scores = append(scores, rec.Score)
		}
	}
	s.MeanConsensus = mean(scores)

	var reps []float64
	for _, v := range r.Reputations {
		reps = append(reps, v)
	}
	s.MeanReputation = mean(reps)

	return s
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func stdDev(v []float64, m float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(v)))
}
