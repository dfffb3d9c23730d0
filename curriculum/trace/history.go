package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// exploratoryMark tags action lines chosen by exploration.
const exploratoryMark = "random"

// ActionHistoryFile returns the action stream file name for an exploration rate.
func ActionHistoryFile(epsilon float64) string {
	return fmt.Sprintf("action_history_epsilon_%v.txt", epsilon)
}

// StateHistoryFile returns the state stream file name for an exploration rate.
func StateHistoryFile(epsilon float64) string {
	return fmt.Sprintf("state_history_epsilon_%v.txt", epsilon)
}

// HistoryLog writes the two append-only diagnostic streams: one line per
// ACTIVE iteration with the selected phase, and one with the state id.
// Writes go straight to the underlying writers with no buffering.
type HistoryLog struct {
	actions io.Writer
	states  io.Writer
	closers []io.Closer
}

// NewHistoryLog wraps caller-owned writers. Close does not close them.
func NewHistoryLog(actions, states io.Writer) *HistoryLog {
	return &HistoryLog{actions: actions, states: states}
}

// OpenHistoryLog opens (appending) both stream files inside dir.
func OpenHistoryLog(dir string, epsilon float64) (*HistoryLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	actions, err := openAppend(filepath.Join(dir, ActionHistoryFile(epsilon)))
	if err != nil {
		return nil, err
	}
	states, err := openAppend(filepath.Join(dir, StateHistoryFile(epsilon)))
	if err != nil {
		_ = actions.Close()
		return nil, err
	}
	return &HistoryLog{
		actions: actions,
		states:  states,
		closers: []io.Closer{actions, states},
	}, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history stream: %w", err)
	}
	return f, nil
}

// Append writes one line to each stream.
func (h *HistoryLog) Append(state, phase int, exploratory bool) error {
	if h == nil {
		return nil
	}
	mark := ""
	if exploratory {
		mark = exploratoryMark
	}
	if _, err := fmt.Fprintf(h.actions, "%d%s\n", phase, mark); err != nil {
		return fmt.Errorf("write action history: %w", err)
	}
	if _, err := fmt.Fprintf(h.states, "%d\n", state); err != nil {
		return fmt.Errorf("write state history: %w", err)
	}
	return nil
}

// Close closes files opened by OpenHistoryLog.
func (h *HistoryLog) Close() error {
	if h == nil {
		return nil
	}
	var errs []error
	for _, c := range h.closers {
		errs = append(errs, c.Close())
	}
	h.closers = nil
	return errors.Join(errs...)
}

// ActionEntry is one parsed line of the action stream.
type ActionEntry struct {
	Phase       int
	Exploratory bool
}

// ReadActionHistory parses an action stream.
func ReadActionHistory(r io.Reader) ([]ActionEntry, error) {
	var out []ActionEntry
	err := scanLines(r, func(line string) error {
		entry := ActionEntry{}
		if rest, ok := strings.CutSuffix(line, exploratoryMark); ok {
			entry.Exploratory = true
			line = rest
		}
		phase, err := strconv.Atoi(line)
		if err != nil {
			return err
		}
		entry.Phase = phase
		out = append(out, entry)
		return nil
	})
	return out, err
}

// ReadStateHistory parses a state stream.
func ReadStateHistory(r io.Reader) ([]int, error) {
	var out []int
	err := scanLines(r, func(line string) error {
		state, err := strconv.Atoi(line)
		if err != nil {
			return err
		}
		out = append(out, state)
		return nil
	})
	return out, err
}

func scanLines(r io.Reader, fn func(string) error) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return scanner.Err()
}
