// Package fasta checks uploaded raw sequence files before they enter the
// submission pipeline and reads their records.
package fasta

import (
	"fmt"
	"strings"

	"github.com/typeloader/typeloader/internal/platform/apperr"
)

// InvalidFormatError means the input is structurally not a sequence file.
type InvalidFormatError struct {
	Reason string
}

func (e *InvalidFormatError) Error() string { return e.Reason }

func (e *InvalidFormatError) Kind() apperr.Kind { return apperr.KindInvalidFormat }

// Record marker and the characters accepted at the start of a body line:
// the four bases and the IUPAC ambiguity codes.
const (
	marker         = ">"
	openingBodySet = "ATGCNRYSWKMBDHV"
)

// ValidateHead decides whether a file is plausibly a sequence file from its
// header line and first body line.
func ValidateHead(header, firstBody string) error {
	header = strings.TrimRight(header, "\r\n")
	if strings.TrimSpace(header) == "" {
		return &InvalidFormatError{Reason: "FASTA files should have a header starting with >"}
	}
	if !strings.HasPrefix(header, marker) {
		return &InvalidFormatError{Reason: "FASTA files should have a header starting with >"}
	}
	if len(strings.TrimSpace(header)) < 2 {
		return &InvalidFormatError{Reason: "This input FASTA file has an empty header! Please put something after the '>'!"}
	}
	body := strings.TrimSpace(firstBody)
	if body == "" || !strings.Contains(openingBodySet, strings.ToUpper(body[:1])) {
		return &InvalidFormatError{Reason: "FASTA files must contain a valid nucleotide sequence after the header!"}
	}
	return nil
}

// Problem is one non-canonical character found by CheckComposition. Pos is
// 0-based.
type Problem struct {
	Char rune `json:"char"`
	Pos  int  `json:"pos"`
}

// CheckComposition returns every character of seq outside A, T, G and C
// (case-insensitive) as it appears in seq, with its character position. A nil
// result means the sequence is clean.
func CheckComposition(seq string) []Problem {
	var problems []Problem
	pos := 0
	for _, r := range seq {
		switch r {
		case 'A', 'T', 'G', 'C', 'a', 't', 'g', 'c':
		default:
			problems = append(problems, Problem{Char: r, Pos: pos})
		}
		pos++
	}
	return problems
}

// NonATGCError carries the offending characters of a composition check.
type NonATGCError struct {
	Problems []Problem
}

// Error lists the offending positions 1-based, the way users count them.
func (e *NonATGCError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "The uploaded allele contains the following %d non-ATGC base(s):\n", len(e.Problems))
	for _, p := range e.Problems {
		fmt.Fprintf(&b, "- position %d: %c\n", p.Pos+1, p.Char)
	}
	b.WriteString("\nPlease fix this in the raw file and try again!")
	return b.String()
}

func (e *NonATGCError) Kind() apperr.Kind { return apperr.KindNonATGC }

// SanityCheck wraps CheckComposition into an error for callers that block on
// composition problems.
func SanityCheck(seq string) error {
	if problems := CheckComposition(seq); len(problems) > 0 {
		return &NonATGCError{Problems: problems}
	}
	return nil
}
