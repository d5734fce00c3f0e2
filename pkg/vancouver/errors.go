package vancouver

import "fmt"

// ValidationError reports a malformed evaluation matrix: out-of-scale
// scores, duplicate (evaluator, target, question) keys, or an empty
// matrix. The computation aborts before any iteration runs.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid evaluation matrix: " + e.Reason
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConfigError reports parameters outside their valid domain. Like
// ValidationError it is surfaced before the loop starts.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid parameters: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
