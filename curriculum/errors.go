package curriculum

import "fmt"

// ConfigError reports invalid static configuration. Raised at construction
// time and never retried.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}

func configErrorf(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DomainError reports a boundary search or index lookup with no valid answer.
// Under valid inputs it never occurs; when it does it indicates a logic defect
// in the caller or in this package.
type DomainError struct {
	Op     string
	Reason string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func domainErrorf(op, format string, args ...any) error {
	return &DomainError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// NonFiniteCostWarning is attached to an Outcome when the cost or reward of an
// iteration was NaN or Inf. The policy update for that iteration is skipped;
// training continues.
type NonFiniteCostWarning struct {
	Step   int64
	Phase  int
	Cost   float64
	Reward float64
}

func (w *NonFiniteCostWarning) Error() string {
	return fmt.Sprintf("step %d: non-finite cost signal for phase %d (cost=%v, reward=%v); policy update skipped",
		w.Step, w.Phase, w.Cost, w.Reward)
}
