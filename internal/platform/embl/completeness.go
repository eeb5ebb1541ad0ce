package embl

import (
	"fmt"

	"github.com/typeloader/typeloader/internal/platform/apperr"
)

// IncompleteSequenceError marks a CDS-only record: no intron is annotated, so
// whether the sequence covers the full gene is unknown.
type IncompleteSequenceError struct {
	Name string
}

func (e *IncompleteSequenceError) Error() string {
	return fmt.Sprintf("%s has no introns annotated; sequence completeness is unknown", e.Name)
}

func (e *IncompleteSequenceError) Kind() apperr.Kind { return apperr.KindIncompleteSequence }

// MissingUTRError marks a record lacking one or both UTRs.
type MissingUTRError struct {
	Name    string
	Missing []string
}

func (e *MissingUTRError) Error() string {
	if len(e.Missing) == 1 {
		return fmt.Sprintf("%s is missing the %s UTR", e.Name, e.Missing[0])
	}
	return fmt.Sprintf("%s is missing both UTRs", e.Name)
}

func (e *MissingUTRError) Kind() apperr.Kind { return apperr.KindMissingUTR }

// CheckCompleteness inspects a parsed record. An empty sequence is fatal;
// missing introns or UTRs are recoverable issues the user may accept.
func CheckCompleteness(a *AnnotatedSequence) apperr.Result {
	var res apperr.Result
	if a.Length() == 0 {
		res.Add(apperr.Fatal(&MalformedRecordError{Expected: fmt.Sprintf("a sequence body for %s", a.Name)}))
		return res
	}
	if !a.FullSequence() {
		res.Add(apperr.Recoverable(&IncompleteSequenceError{Name: a.Name}))
	}
	var missing []string
	if a.UTR5 == "" {
		missing = append(missing, "5'")
	}
	if a.UTR3 == "" {
		missing = append(missing, "3'")
	}
	if len(missing) > 0 {
		res.Add(apperr.Recoverable(&MissingUTRError{Name: a.Name, Missing: missing}))
	}
	return res
}
