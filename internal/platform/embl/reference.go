package embl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/typeloader/typeloader/internal/platform/apperr"
)

// Reference targets understood by BuildReference.
const (
	TargetHLA = "hla"
	TargetKIR = "KIR"
)

// The IPD HLA file also carries loci (TAP, ...) that are not typed.
var usableHLALoci = []string{
	"HLA-A*", "HLA-B*", "HLA-C*", "HLA-E*", "HLA-DPB1*", "HLA-DQB1*",
	"HLA-DRB", "MICA", "MICB", "HLA-DPA1", "HLA-DQA1",
	"HLA-DMA", "HLA-DMB", "HLA-DOA", "HLA-DOB",
	"HLA-F", "HLA-G", "HLA-H", "HLA-K", "HLA-J",
}

// UsableHLALocus reports whether an allele from the HLA reference file
// belongs to a locus kept for typing.
func UsableHLALocus(name string) bool {
	for _, prefix := range usableHLALoci {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// WriteFASTA writes each record as its fixed header followed by its sequence.
// With noUTR the UTR flanks are trimmed from the written sequence.
func WriteFASTA(w io.Writer, recs []*AnnotatedSequence, noUTR bool) error {
	bw := bufio.NewWriter(w)
	for _, rec := range recs {
		seq := rec.Sequence
		if noUTR {
			start, end := len(rec.UTR5), len(seq)-len(rec.UTR3)
			if start > end {
				return apperr.New(apperr.KindMalformedRecord, fmt.Sprintf(
					"%s: UTRs of %d and %d bp overlap in a %d bp sequence",
					rec.Name, len(rec.UTR5), len(rec.UTR3), len(seq)))
			}
			seq = seq[start:end]
		}
		if _, err := fmt.Fprintf(bw, "%s\n%s\n", rec.Header, seq); err != nil {
			return fmt.Errorf("embl: write fasta: %w", err)
		}
	}
	return bw.Flush()
}

// ReferenceSummary describes a reference FASTA written by BuildReference.
type ReferenceSummary struct {
	Release string
	Written int
	// FullSequence lists every allele with annotated introns, whether or not
	// it was written.
	FullSequence []string
}

// BuildReference reads an IPD .dat file and writes the alleles usable as
// alignment references, one ">name\nsequence" entry each. If restrict is not
// empty only the named alleles are written. Otherwise KIR and MIC alleles are
// written only when both UTRs are known.
func BuildReference(r io.Reader, w io.Writer, target string, restrict []string) (*ReferenceSummary, error) {
	if target != TargetHLA && target != TargetKIR {
		return nil, fmt.Errorf("embl: unknown reference target %q", target)
	}
	recs, release, err := ParseAll(r)
	if err != nil {
		return nil, err
	}

	only := make(map[string]bool, len(restrict))
	for _, name := range restrict {
		only[name] = true
	}

	sum := &ReferenceSummary{Release: release}
	bw := bufio.NewWriter(w)
	for _, rec := range recs {
		if target == TargetHLA && !UsableHLALocus(rec.Name) {
			continue
		}
		if rec.FullSequence() {
			sum.FullSequence = append(sum.FullSequence, rec.Name)
		}
		switch {
		case len(only) > 0:
			if !only[rec.Name] {
				continue
			}
		case target == TargetKIR || strings.HasPrefix(rec.Name, "MIC"):
			if !rec.FullLength() {
				continue
			}
		}
		if _, err := fmt.Fprintf(bw, ">%s\n%s\n", rec.Name, rec.Sequence); err != nil {
			return nil, fmt.Errorf("embl: write reference: %w", err)
		}
		sum.Written++
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("embl: write reference: %w", err)
	}
	return sum, nil
}
