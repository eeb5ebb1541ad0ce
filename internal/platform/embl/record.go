// Package embl parses EMBL-style flat-file records (the IPD reference .dat
// files and the per-sample submission files) into annotated allele sequences.
package embl

import (
	"fmt"
	"sort"
	"strings"

	"github.com/typeloader/typeloader/internal/platform/apperr"
)

// Span is a half-open [Start, End) range over the 0-based sequence buffer.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// UTR span keys.
const (
	UTR5 = "utr5"
	UTR3 = "utr3"
)

// AnnotatedSequence is one parsed allele record. Only the parser mutates it.
type AnnotatedSequence struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Locus          string          `json:"locus"`
	DeclaredLength int             `json:"declared_length"`
	Sequence       string          `json:"sequence"`
	UTR5           string          `json:"utr5,omitempty"`
	UTR3           string          `json:"utr3,omitempty"`
	Exons          map[int]string  `json:"exons"`
	Introns        map[int]string  `json:"introns"`
	ExonSpans      map[int]Span    `json:"exon_spans"`
	IntronSpans    map[int]Span    `json:"intron_spans"`
	UTRSpans       map[string]Span `json:"utr_spans"`
	ExonLabels     map[int]string  `json:"exon_labels"`   // 3 -> "3/4"
	IntronLabels   map[int]string  `json:"intron_labels"` // 2 -> "2"
	PseudoExons    map[int]bool    `json:"pseudo_exons"`
	Header         string          `json:"header"`
	Release        string          `json:"release,omitempty"`
}

func newAnnotatedSequence() *AnnotatedSequence {
	return &AnnotatedSequence{
		Exons:        make(map[int]string),
		Introns:      make(map[int]string),
		ExonSpans:    make(map[int]Span),
		IntronSpans:  make(map[int]Span),
		UTRSpans:     make(map[string]Span),
		ExonLabels:   make(map[int]string),
		IntronLabels: make(map[int]string),
		PseudoExons:  make(map[int]bool),
	}
}

// Length returns the length of the parsed sequence.
func (a *AnnotatedSequence) Length() int { return len(a.Sequence) }

// FullSequence reports whether at least one intron is known. Records without
// introns are CDS-only and their completeness is unknown.
func (a *AnnotatedSequence) FullSequence() bool { return len(a.Introns) > 0 }

// FullLength reports whether both UTRs are known.
func (a *AnnotatedSequence) FullLength() bool { return a.UTR5 != "" && a.UTR3 != "" }

// ExonNumbers returns the exon keys in ascending order.
func (a *AnnotatedSequence) ExonNumbers() []int {
	return sortedKeys(a.Exons)
}

// IntronNumbers returns the intron keys in ascending order.
func (a *AnnotatedSequence) IntronNumbers() []int {
	return sortedKeys(a.Introns)
}

// CDS concatenates the exon sequences in exon-number order.
func (a *AnnotatedSequence) CDS() string {
	var b strings.Builder
	for _, n := range a.ExonNumbers() {
		b.WriteString(a.Exons[n])
	}
	return b.String()
}

func (a *AnnotatedSequence) String() string { return a.Name }

// resolve fills the content maps from the recorded spans once the full
// sequence is known.
func (a *AnnotatedSequence) resolve(lineNo int) error {
	cut := func(what string, s Span) (string, error) {
		if s.Start < 0 || s.Start > s.End || s.End > len(a.Sequence) {
			return "", &MalformedRecordError{
				LineNo:   lineNo,
				Line:     "//",
				Expected: fmt.Sprintf("%s span %d..%d within sequence of length %d", what, s.Start+1, s.End, len(a.Sequence)),
			}
		}
		return a.Sequence[s.Start:s.End], nil
	}

	for n, s := range a.ExonSpans {
		seq, err := cut(fmt.Sprintf("exon %d", n), s)
		if err != nil {
			return err
		}
		a.Exons[n] = seq
	}
	for n, s := range a.IntronSpans {
		seq, err := cut(fmt.Sprintf("intron %d", n), s)
		if err != nil {
			return err
		}
		a.Introns[n] = seq
	}
	if s, ok := a.UTRSpans[UTR5]; ok {
		seq, err := cut("5' UTR", s)
		if err != nil {
			return err
		}
		a.UTR5 = seq
	}
	if s, ok := a.UTRSpans[UTR3]; ok {
		seq, err := cut("3' UTR", s)
		if err != nil {
			return err
		}
		a.UTR3 = seq
	}

	a.Header = fmt.Sprintf(">%s %d bp", headerName(a.Name), len(a.Sequence))
	return nil
}

// headerName drops the "HLA-" style prefix of the allele name.
func headerName(name string) string {
	if strings.HasPrefix(name, "HLA") {
		if _, after, ok := strings.Cut(name, "-"); ok {
			return after
		}
	}
	return name
}

func sortedKeys(m map[int]string) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// MalformedRecordError reports a flat-file grammar violation.
type MalformedRecordError struct {
	LineNo   int
	Line     string
	Expected string
}

func (e *MalformedRecordError) Error() string {
	if e.LineNo == 0 {
		return fmt.Sprintf("malformed record: expected %s", e.Expected)
	}
	if e.Line == "" {
		return fmt.Sprintf("malformed record at line %d: expected %s", e.LineNo, e.Expected)
	}
	return fmt.Sprintf("malformed record at line %d: expected %s, got %q", e.LineNo, e.Expected, strings.TrimSpace(e.Line))
}

func (e *MalformedRecordError) Kind() apperr.Kind { return apperr.KindMalformedRecord }
