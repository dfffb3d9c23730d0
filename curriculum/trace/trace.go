package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every ACTIVE-mode policy decision.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// CurriculumTrace collects decision records during a run.
type CurriculumTrace struct {
	Level     TraceLevel
	Decisions []DecisionRecord
}

// NewCurriculumTrace creates a CurriculumTrace ready for recording.
func NewCurriculumTrace(level TraceLevel) *CurriculumTrace {
	return &CurriculumTrace{
		Level:     level,
		Decisions: make([]DecisionRecord, 0),
	}
}

// RecordDecision appends a decision record. No-op on a nil trace or when the
// level does not capture decisions.
func (ct *CurriculumTrace) RecordDecision(record DecisionRecord) {
	if ct == nil || ct.Level != TraceLevelDecisions {
		return
	}
	ct.Decisions = append(ct.Decisions, record)
}
