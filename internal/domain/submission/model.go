// Package submission owns the life of a submission batch: packaging the
// per-sample files, driving the validate-then-submit state machine through the
// external tool, correlating its reports and keeping the history.
package submission

import (
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/typeloader/typeloader/internal/platform/apperr"
	"github.com/typeloader/typeloader/internal/platform/packaging"
	"github.com/typeloader/typeloader/internal/platform/report"
	"github.com/typeloader/typeloader/internal/platform/webin"
)

// State is the phase a batch is in.
type State string

const (
	StateBuilt      State = "built"
	StateValidating State = "validating"
	StateValid      State = "valid"
	StateInvalid    State = "invalid"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
	StateRejected   State = "rejected"
)

// transitions lists the legal moves. Validating -> Built and
// Submitting -> Valid only happen when a run produced no verdict (timeout,
// tool failure, cancellation).
var transitions = map[State][]State{
	StateBuilt:      {StateValidating},
	StateValidating: {StateValid, StateInvalid, StateBuilt},
	StateValid:      {StateSubmitting},
	StateSubmitting: {StateSubmitted, StateRejected, StateValid},
}

// Terminal reports whether no further transition is possible. Invalid and
// rejected batches are retried by building a new batch.
func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether a batch in s may move to next.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// InvalidTransitionError is returned for a move the state machine forbids.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("batch cannot move from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Kind() apperr.Kind { return apperr.KindInvalidState }

// Transition is one recorded state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// Batch is a set of samples packaged into one artifact and submitted as a
// unit. Its files live in one project directory, which is also the input and
// output directory of the tool.
type Batch struct {
	ID          uuid.UUID            `json:"id"`
	Alias       string               `json:"alias"`
	Study       string               `json:"study"`
	Test        bool                 `json:"test"`
	Artifact    string               `json:"artifact"`
	Checksum    string               `json:"checksum"`
	Samples     []string             `json:"samples"`
	Index       *packaging.LineIndex `json:"-"`
	State       State                `json:"state"`
	ExternalID  string               `json:"external_id,omitempty"`
	Outcome     *report.Outcome      `json:"outcome,omitempty"`
	Transitions []Transition         `json:"transitions,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Dir is the project directory holding the batch files.
func (b *Batch) Dir() string { return filepath.Dir(b.Artifact) }

// ManifestPath is where the manifest of the batch is written.
func (b *Batch) ManifestPath() string {
	return ManifestPath(b.Dir(), b.Alias)
}

// ReportPath is where the tool leaves its report after a rejected run.
func (b *Batch) ReportPath() string {
	return webin.ReportPath(b.Dir(), b.Alias)
}

// Transition moves the batch to next and records the change.
func (b *Batch) Transition(next State, at time.Time) error {
	if !b.State.CanTransition(next) {
		return &InvalidTransitionError{From: b.State, To: next}
	}
	b.Transitions = append(b.Transitions, Transition{From: b.State, To: next, At: at})
	b.State = next
	b.UpdatedAt = at
	return nil
}

// clone returns a copy that shares no slices with b. The line index is
// read-only once built and is shared.
func (b *Batch) clone() *Batch {
	c := *b
	c.Samples = slices.Clone(b.Samples)
	c.Transitions = slices.Clone(b.Transitions)
	return &c
}

// -- File names inside a project directory --

// ManifestPath returns the manifest path for alias in dir.
func ManifestPath(dir, alias string) string {
	return filepath.Join(dir, webin.AliasPrefix(alias)+"_manifest.txt")
}

// AnalysisPath returns the analysis descriptor path for alias in dir.
func AnalysisPath(dir, alias string) string {
	return filepath.Join(dir, webin.AliasPrefix(alias)+"_analysis.xml")
}

// SubmissionPath returns the submission descriptor path for alias in dir.
func SubmissionPath(dir, alias string) string {
	return filepath.Join(dir, webin.AliasPrefix(alias)+"_submission.xml")
}
