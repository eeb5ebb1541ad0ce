package submission

import (
	"errors"
	"testing"
	"time"

	"github.com/typeloader/typeloader/internal/platform/apperr"
)

func TestState_CanTransition(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateBuilt, StateValidating, true},
		{StateBuilt, StateSubmitting, false},
		{StateBuilt, StateValid, false},
		{StateValidating, StateValid, true},
		{StateValidating, StateInvalid, true},
		{StateValidating, StateBuilt, true},
		{StateValid, StateSubmitting, true},
		{StateValid, StateValidating, false},
		{StateValid, StateBuilt, false},
		{StateSubmitting, StateSubmitted, true},
		{StateSubmitting, StateRejected, true},
		{StateSubmitting, StateValid, true},
		{StateInvalid, StateValidating, false},
		{StateRejected, StateSubmitting, false},
		{StateSubmitted, StateSubmitting, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateInvalid, StateSubmitted, StateRejected} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateBuilt, StateValidating, StateValid, StateSubmitting} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestBatch_Transition(t *testing.T) {
	b := &Batch{State: StateBuilt}
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	if err := b.Transition(StateValidating, at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State != StateValidating || !b.UpdatedAt.Equal(at) {
		t.Errorf("unexpected batch after transition: %+v", b)
	}
	if len(b.Transitions) != 1 || b.Transitions[0].From != StateBuilt || b.Transitions[0].To != StateValidating {
		t.Errorf("unexpected transitions: %+v", b.Transitions)
	}

	err := b.Transition(StateSubmitted, at)
	var te *InvalidTransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if apperr.KindOf(err) != apperr.KindInvalidState {
		t.Errorf("expected kind %s, got %s", apperr.KindInvalidState, apperr.KindOf(err))
	}
	if b.State != StateValidating || len(b.Transitions) != 1 {
		t.Error("a refused transition must leave the batch untouched")
	}
}

func TestBatch_Paths(t *testing.T) {
	b := &Batch{Alias: "DKMS_1_20261017", Artifact: "/projects/DKMS_1_20261017/DKMS_1_flatfile.txt.gz"}
	if b.Dir() != "/projects/DKMS_1_20261017" {
		t.Errorf("unexpected dir %q", b.Dir())
	}
	if b.ManifestPath() != "/projects/DKMS_1_20261017/DKMS_1_manifest.txt" {
		t.Errorf("unexpected manifest path %q", b.ManifestPath())
	}
	want := "/projects/DKMS_1_20261017/sequence/DKMS_1_20261017/validate/DKMS_1_flatfile.txt.gz.report"
	if b.ReportPath() != want {
		t.Errorf("unexpected report path %q", b.ReportPath())
	}
}

func TestBatch_CloneDoesNotShareSlices(t *testing.T) {
	b := &Batch{Samples: []string{"A"}, Transitions: []Transition{{From: StateBuilt, To: StateValidating}}}
	c := b.clone()
	c.Samples[0] = "changed"
	c.Transitions[0].To = StateBuilt
	if b.Samples[0] != "A" || b.Transitions[0].To != StateValidating {
		t.Error("clone must not share slices with the original")
	}
}
