package vancouver

// Parameters is the explicit, immutable configuration for a single
// grading run. It is always passed into Compute, never read from
// ambient state.
type Parameters struct {
	// RMax is the upper bound and initial value for all reputations.
	RMax float64 `json:"r_max" yaml:"rMax"`

	// VG calibrates how residual magnitude maps to reliability loss:
	// the penalty slope is RMax/VG, so an evaluator whose root mean
	// squared residual reaches VG bottoms out at reputation zero.
	VG float64 `json:"v_g" yaml:"vG"`

	// Tolerance is the convergence threshold on the maximum absolute
	// reputation change between consecutive iterations.
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`

	// Iterations is the hard cap on loop iterations.
	Iterations int `json:"iterations" yaml:"iterations"`

	// MinEvaluators is the minimum sample size before the weighted
	// consensus is trusted; below it the protection policy applies.
	// It doubles as the participation quota N in the incentive weight.
	MinEvaluators int `json:"min_evaluators" yaml:"minEvaluators"`

	// DampingFactor smooths reputation updates: 0 keeps no memory of
	// the previous value, values toward 1 barely move it.
	DampingFactor float64 `json:"damping_factor" yaml:"dampingFactor"`

	// Alpha is the incentive share blended into final grades. Zero
	// disables the blend and grades are pure consensus totals.
	Alpha float64 `json:"alpha" yaml:"alpha"`
}

// DefaultParameters mirrors the values used for the midterm runs.
func DefaultParameters() Parameters {
	return Parameters{
		RMax:          1.0,
		VG:            8.0,
		Tolerance:     0.01,
		Iterations:    25,
		MinEvaluators: 4,
		DampingFactor: 0.0,
		Alpha:         0.1,
	}
}

// Validate reports a ConfigError for any parameter outside its domain.
func (p Parameters) Validate() error {
	if p.RMax <= 0 {
		return configErrorf("r_max must be positive, got %v", p.RMax)
	}
	if p.VG <= 0 {
		return configErrorf("v_g must be positive, got %v", p.VG)
	}
	if p.Tolerance <= 0 {
		return configErrorf("tolerance must be positive, got %v", p.Tolerance)
	}
	if p.Iterations < 1 {
		return configErrorf("iterations must be at least 1, got %d", p.Iterations)
	}
	if p.MinEvaluators < 1 {
		return configErrorf("min_evaluators must be at least 1, got %d", p.MinEvaluators)
	}
	if p.DampingFactor < 0 || p.DampingFactor >= 1 {
		return configErrorf("damping_factor must be in [0, 1), got %v", p.DampingFactor)
	}
	if p.Alpha < 0 || p.Alpha > 1 {
		return configErrorf("alpha must be in [0, 1], got %v", p.Alpha)
	}
	return nil
}
