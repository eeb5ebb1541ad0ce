package fasta

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/biogo/biogo/alphabet"
	"github.com/biogo/biogo/io/seqio"
	biofasta "github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq"
	"github.com/biogo/biogo/seq/linear"
)

// Record is one FASTA entry.
type Record struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Sequence    string `json:"sequence"`
}

// Header returns the full header text without the record marker.
func (r Record) Header() string {
	if r.Description == "" {
		return r.Name
	}
	return r.Name + " " + r.Description
}

// ReadRecords validates the opening lines of r and then reads every record.
// Sequences are upper-cased.
func ReadRecords(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("fasta: read input: %w", err)
	}
	header, rest, _ := bytes.Cut(data, []byte("\n"))
	body, _, _ := bytes.Cut(rest, []byte("\n"))
	if err := ValidateHead(string(header), string(body)); err != nil {
		return nil, err
	}

	template := linear.NewSeq("", nil, alphabet.DNAredundant)
	sc := seqio.NewScanner(biofasta.NewReader(bytes.NewReader(data), template))
	var recs []Record
	for sc.Next() {
		s := sc.Seq()
		recs = append(recs, Record{
			Name:        s.Name(),
			Description: s.Description(),
			Sequence:    letters(s),
		})
	}
	if err := sc.Error(); err != nil {
		return nil, &InvalidFormatError{Reason: fmt.Sprintf("unreadable FASTA content: %v", err)}
	}
	return recs, nil
}

func letters(s seq.Sequence) string {
	var b strings.Builder
	b.Grow(s.Len())
	for i := s.Start(); i < s.End(); i++ {
		b.WriteByte(byte(s.At(i).L))
	}
	return strings.ToUpper(b.String())
}

// Header is a parsed DR2S-style header: `name k="v" k2="v2";k3=v3`.
type Header struct {
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields,omitempty"`
	// Unparsed holds items that are not key=value pairs.
	Unparsed []string `json:"unparsed,omitempty"`
}

// ParseHeader parses a header line. Headers without a ';' are manual or
// GenDX headers and are returned whole as the name.
func ParseHeader(line string) Header {
	line = strings.TrimPrefix(strings.TrimSpace(line), marker)
	parts := strings.Split(line, ";")
	h := Header{Fields: make(map[string]string)}
	if len(parts) < 2 {
		h.Name = line
		return h
	}

	first := strings.Fields(parts[0])
	if len(first) > 0 {
		h.Name = first[0]
		first = first[1:]
	}
	items := append(first, parts[1:]...)
	for _, item := range items {
		item = strings.TrimSpace(strings.ReplaceAll(item, `"`, ""))
		if item == "" {
			continue
		}
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			h.Unparsed = append(h.Unparsed, item)
			continue
		}
		if value == "list()" || value == "list(NULL)" {
			value = ""
		}
		h.Fields[key] = value
	}
	return h
}
