package embl

import (
	"errors"
	"strings"
	"testing"
)

const sampleRecord = `ID   HLA00001; SV 1; standard; DNA; HUM; 30 BP.
XX
AC   HLA00001;
XX
DT   12-OCT-2020 (Rel. 3.42.0, Current Release)
XX
DE   HLA-A*01:01:01:01, Human MHC Class I sequence
XX
FT   5'UTR           1..5
FT   exon            6..12
FT                   /number="1"
FT   intron          13..18
FT                   /number="1"
FT   exon            19..25
FT                   /number="2/3"
FT                   /pseudo
FT   3'UTR           26..30
XX
SQ   Sequence 30 BP; 8 A; 10 C; 7 G; 10 T; 0 other;
     aaaaaccccc ccggggggtt tttttacgta                                   30
//
`

const sampleSequence = "AAAAACCCCCCCGGGGGGTTTTTTTACGTA"

// =========== Cursor ===========

func TestCursor_Peek(t *testing.T) {
	c := NewCursor([]string{"a", "b", "c"})
	if _, ok := c.Peek(1); !ok {
		t.Fatal("peek before first line should see line 1")
	}
	c.Next()
	if got, _ := c.Peek(2); got != "c" {
		t.Errorf("expected 'c', got %q", got)
	}
	if _, ok := c.Peek(3); ok {
		t.Error("peek past the end should fail")
	}
	if _, ok := c.Peek(0); ok {
		t.Error("peek(0) should fail")
	}
	if c.LineNo() != 1 || c.Line() != "a" {
		t.Errorf("peek must not move the cursor, at %d %q", c.LineNo(), c.Line())
	}
	c.Next()
	c.Next()
	if c.Next() {
		t.Error("expected end of input")
	}
	if c.Line() != "" {
		t.Errorf("expected empty line past the end, got %q", c.Line())
	}
}

// =========== ParseRecord ===========

func TestParseRecord(t *testing.T) {
	rec, err := ParseRecord(sampleRecord)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.ID != "HLA00001" {
		t.Errorf("expected ID HLA00001, got %q", rec.ID)
	}
	if rec.DeclaredLength != 30 {
		t.Errorf("expected declared length 30, got %d", rec.DeclaredLength)
	}
	if rec.Name != "HLA-A*01:01:01:01" {
		t.Errorf("unexpected name %q", rec.Name)
	}
	if rec.Locus != "HLA-A" {
		t.Errorf("expected locus HLA-A, got %q", rec.Locus)
	}
	if rec.Sequence != sampleSequence {
		t.Errorf("unexpected sequence %q", rec.Sequence)
	}
	if rec.Release != "3.42.0" {
		t.Errorf("expected release 3.42.0, got %q", rec.Release)
	}
	if rec.Header != ">A*01:01:01:01 30 bp" {
		t.Errorf("unexpected header %q", rec.Header)
	}
	if rec.UTR5 != "AAAAA" || rec.UTR3 != "ACGTA" {
		t.Errorf("unexpected UTRs %q / %q", rec.UTR5, rec.UTR3)
	}
	if rec.Exons[1] != "CCCCCCC" || rec.Exons[2] != "TTTTTTT" {
		t.Errorf("unexpected exons %v", rec.Exons)
	}
	if rec.Introns[1] != "GGGGGG" {
		t.Errorf("unexpected introns %v", rec.Introns)
	}
	if rec.ExonLabels[2] != "2/3" {
		t.Errorf("expected fractional label '2/3', got %q", rec.ExonLabels[2])
	}
	if rec.PseudoExons[1] || !rec.PseudoExons[2] {
		t.Errorf("expected only exon 2 pseudo, got %v", rec.PseudoExons)
	}
	if !rec.FullSequence() || !rec.FullLength() {
		t.Error("expected a full-length, full-sequence record")
	}
	if rec.CDS() != "CCCCCCCTTTTTTT" {
		t.Errorf("unexpected CDS %q", rec.CDS())
	}
}

func TestParseRecord_SpansRoundTrip(t *testing.T) {
	rec, err := ParseRecord(sampleRecord)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for n, s := range rec.ExonSpans {
		if got := rec.Sequence[s.Start:s.End]; got != rec.Exons[n] {
			t.Errorf("exon %d: span gives %q, map holds %q", n, got, rec.Exons[n])
		}
	}
	for n, s := range rec.IntronSpans {
		if got := rec.Sequence[s.Start:s.End]; got != rec.Introns[n] {
			t.Errorf("intron %d: span gives %q, map holds %q", n, got, rec.Introns[n])
		}
	}

	// Features tile the sequence, so reassembling them reproduces it.
	rebuilt := rec.UTR5 + rec.Exons[1] + rec.Introns[1] + rec.Exons[2] + rec.UTR3
	if rebuilt != rec.Sequence {
		t.Errorf("reassembled %q, want %q", rebuilt, rec.Sequence)
	}
	if s := rec.ExonSpans[1]; s.Start != 5 || s.End != 12 {
		t.Errorf("expected exon 1 span [5,12), got %+v", s)
	}
}

func TestParseRecord_CDSOnly(t *testing.T) {
	text := `ID   KIR0001; SV 1; standard; DNA; HUM; 10 BP.
DE   KIR2DL1*0010101, Killer-cell Immunoglobulin-like Receptor
FT   exon            1..10
FT                   /number="1"
SQ   Sequence 10 BP;
     acgtacgtac         10
//`
	rec, err := ParseRecord(text)
	if err != nil {
		t.Fatalf("a CDS-only record is not an error: %v", err)
	}
	if rec.FullSequence() {
		t.Error("expected completeness unknown for a record without introns")
	}
	if rec.Locus != "KIR2DL1" {
		t.Errorf("expected locus KIR2DL1, got %q", rec.Locus)
	}
	if rec.Header != ">KIR2DL1*0010101 10 bp" {
		t.Errorf("unexpected header %q", rec.Header)
	}
}

func TestParseRecord_MissingNumber(t *testing.T) {
	text := `ID   X1; SV 1; standard; DNA; HUM; 10 BP.
DE   HLA-A*01:01, test
FT   exon            1..5
FT   intron          6..10
FT                   /number="1"
SQ   Sequence 10 BP;
     acgtacgtac         10
//`
	_, err := ParseRecord(text)
	var mre *MalformedRecordError
	if !errors.As(err, &mre) {
		t.Fatalf("expected MalformedRecordError, got %v", err)
	}
	if mre.LineNo != 4 {
		t.Errorf("expected offending line 4, got %d", mre.LineNo)
	}
	if !strings.Contains(mre.Expected, "/number") {
		t.Errorf("expected message to name /number, got %q", mre.Expected)
	}
}

func TestParseRecord_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"no terminator", "ID   X1; SV 1; 4 BP.\nSQ   Sequence 4 BP;\n     acgt 4\n"},
		{"span outside sequence", "ID   X1; 4 BP.\nFT   exon            1..9\nFT                   /number=\"1\"\nSQ   x\n     acgt 4\n//"},
		{"bad location", "ID   X1; 4 BP.\nFT   exon            a..b\nFT                   /number=\"1\"\n//"},
		{"terminator without record", "//"},
		{"two records", "ID   X1; 4 BP.\nSQ\n     acgt 4\n//\nID   X2; 4 BP.\nSQ\n     acgt 4\n//"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRecord(tt.text)
			var mre *MalformedRecordError
			if !errors.As(err, &mre) {
				t.Fatalf("expected MalformedRecordError, got %v", err)
			}
		})
	}
}

// =========== ParseAll ===========

func TestParseAll_ReleaseLastWins(t *testing.T) {
	second := strings.Replace(sampleRecord, "HLA00001", "HLA00002", -1)
	second = strings.Replace(second, "HLA-A*01:01:01:01", "HLA-TAP1*01:01", 1)
	second = strings.Replace(second, "DT   12-OCT-2020 (Rel. 3.42.0, Current Release)",
		"CC   IPD-KIR Release Version 2.10.0", 1)

	recs, release, err := ParseAll(strings.NewReader(sampleRecord + second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if release != "2.10.0" {
		t.Errorf("expected last release 2.10.0, got %q", release)
	}
	if recs[0].Release != "3.42.0" {
		t.Errorf("first record should carry the release seen so far, got %q", recs[0].Release)
	}
	if recs[1].ID != "HLA00002" {
		t.Errorf("unexpected second ID %q", recs[1].ID)
	}
}

func TestClassify(t *testing.T) {
	tests := map[string]LineKind{
		"ID   X":    LineID,
		"FT   exon": LineFT,
		"//":        LineTerminator,
		"XX":        LineOther,
		"     acgt": LineOther,
		"":          LineOther,
	}
	for line, want := range tests {
		if got := Classify(line); got != want {
			t.Errorf("Classify(%q) = %d, want %d", line, got, want)
		}
	}
}
