package embl

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// LineKind is the grammar class of a flat-file line, decided by its
// two-character tag.
type LineKind int

const (
	LineOther LineKind = iota
	LineID
	LineDT
	LineCC
	LineDE
	LineFT
	LineSQ
	LineTerminator
)

var lineTags = map[string]LineKind{
	"ID": LineID,
	"DT": LineDT,
	"CC": LineCC,
	"DE": LineDE,
	"FT": LineFT,
	"SQ": LineSQ,
	"//": LineTerminator,
}

// Classify returns the kind of a raw line. Sequence body lines and unknown
// tags (XX, AC, KW, ...) are LineOther.
func Classify(line string) LineKind {
	if len(line) < 2 {
		return LineOther
	}
	return lineTags[line[:2]]
}

var (
	// DT lines are matched lower-cased: "DT   ... (rel. 2.9.0, current release)".
	dtRelease = regexp.MustCompile(`\(rel\. (.*?), current release`)
	ccRelease = regexp.MustCompile(`CC  .* Release Version (.*)`)
)

type handlerFunc func(p *parser) error

var handlers = map[LineKind]handlerFunc{
	LineID:         (*parser).onID,
	LineDT:         (*parser).onDT,
	LineCC:         (*parser).onCC,
	LineDE:         (*parser).onDE,
	LineFT:         (*parser).onFT,
	LineSQ:         (*parser).onSQ,
	LineTerminator: (*parser).onTerminator,
}

type parser struct {
	cur     *Cursor
	rec     *AnnotatedSequence
	seq     strings.Builder
	release string
	records []*AnnotatedSequence
}

func newParser(text string) *parser {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return &parser{cur: NewCursor(strings.Split(text, "\n"))}
}

// ParseRecord parses the full text of exactly one flat-file record.
func ParseRecord(text string) (*AnnotatedSequence, error) {
	p := newParser(text)
	if err := p.run(); err != nil {
		return nil, err
	}
	switch len(p.records) {
	case 0:
		return nil, &MalformedRecordError{LineNo: 1, Expected: "an ID line starting a record"}
	case 1:
		return p.records[0], nil
	default:
		return nil, &MalformedRecordError{
			LineNo:   1,
			Expected: fmt.Sprintf("a single record, found %d", len(p.records)),
		}
	}
}

// ParseAll parses every record of a multi-record file such as an IPD .dat
// reference. It also returns the last release version announced in DT or CC
// lines.
func ParseAll(r io.Reader) ([]*AnnotatedSequence, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("embl: read input: %w", err)
	}
	p := newParser(string(data))
	if err := p.run(); err != nil {
		return nil, "", err
	}
	return p.records, p.release, nil
}

func (p *parser) run() error {
	for p.cur.Next() {
		h, ok := handlers[Classify(p.cur.Line())]
		if !ok {
			continue
		}
		if err := h(p); err != nil {
			return err
		}
	}
	if p.rec != nil {
		return &MalformedRecordError{
			LineNo:   len(p.cur.lines),
			Expected: fmt.Sprintf("record terminator // for %q", p.rec.ID),
		}
	}
	return nil
}

// record returns the record under construction, starting one if needed.
func (p *parser) record() *AnnotatedSequence {
	if p.rec == nil {
		p.rec = newAnnotatedSequence()
		p.seq.Reset()
	}
	return p.rec
}

func (p *parser) malformed(expected string) error {
	return &MalformedRecordError{LineNo: p.cur.LineNo(), Line: p.cur.Line(), Expected: expected}
}

func (p *parser) onID() error {
	fields := strings.Fields(p.cur.Line())
	if len(fields) < 2 {
		return p.malformed("an identifier after ID")
	}
	p.rec = nil
	rec := p.record()
	rec.ID = strings.TrimSuffix(fields[1], ";")
	for i := 2; i < len(fields); i++ {
		if strings.HasPrefix(strings.ToUpper(fields[i]), "BP") {
			if n, err := strconv.Atoi(fields[i-1]); err == nil {
				rec.DeclaredLength = n
			}
			break
		}
	}
	return nil
}

func (p *parser) onDT() error {
	if m := dtRelease.FindStringSubmatch(strings.ToLower(p.cur.Line())); m != nil {
		p.release = m[1]
	}
	return nil
}

func (p *parser) onCC() error {
	if m := ccRelease.FindStringSubmatch(p.cur.Line()); m != nil {
		p.release = strings.TrimSpace(m[1])
	}
	return nil
}

func (p *parser) onDE() error {
	fields := strings.Fields(p.cur.Line())
	if len(fields) < 2 {
		return p.malformed("an allele name after DE")
	}
	rec := p.record()
	rec.Name = strings.TrimSuffix(fields[1], ",")
	rec.Locus, _, _ = strings.Cut(rec.Name, "*")
	return nil
}

func (p *parser) onFT() error {
	fields := strings.Fields(p.cur.Line())
	if len(fields) < 3 {
		// qualifier lines are consumed through lookahead
		return nil
	}
	keyword := fields[1]
	switch {
	case strings.Contains(keyword, "UTR"):
		span, err := p.location(fields[len(fields)-1])
		if err != nil {
			return err
		}
		rec := p.record()
		if span.Start == 0 {
			rec.UTRSpans[UTR5] = span
		} else {
			rec.UTRSpans[UTR3] = span
		}
	case keyword == "exon" || keyword == "intron":
		span, err := p.location(fields[len(fields)-1])
		if err != nil {
			return err
		}
		num, label, err := p.featureNumber(keyword)
		if err != nil {
			return err
		}
		rec := p.record()
		if keyword == "exon" {
			rec.ExonSpans[num] = span
			rec.ExonLabels[num] = label
			next, _ := p.cur.Peek(2)
			rec.PseudoExons[num] = strings.Contains(next, "pseudo")
		} else {
			rec.IntronSpans[num] = span
			rec.IntronLabels[num] = label
		}
	}
	return nil
}

// location parses "start..end" (1-based, inclusive) into a half-open span.
func (p *parser) location(raw string) (Span, error) {
	raw = strings.Trim(raw, "<>")
	startStr, endStr, found := strings.Cut(raw, "..")
	if !found {
		endStr = startStr
	}
	start, err1 := strconv.Atoi(strings.Trim(startStr, "<>"))
	end, err2 := strconv.Atoi(strings.Trim(endStr, "<>"))
	if err1 != nil || err2 != nil || start < 1 {
		return Span{}, p.malformed("a feature location of the form start..end")
	}
	return Span{Start: start - 1, End: end}, nil
}

// featureNumber reads the /number qualifier on the line after the feature.
// Fractional numbers such as "3/4" are kept as label; the integer prefix is
// the key.
func (p *parser) featureNumber(keyword string) (int, string, error) {
	next, ok := p.cur.Peek(1)
	idx := strings.Index(next, "/number=")
	if !ok || idx < 0 {
		return 0, "", &MalformedRecordError{
			LineNo:   p.cur.LineNo() + 1,
			Line:     next,
			Expected: fmt.Sprintf("a /number qualifier for the %s on line %d", keyword, p.cur.LineNo()),
		}
	}
	label := strings.Trim(strings.TrimSpace(next[idx+len("/number="):]), `"`)
	prefix, _, _ := strings.Cut(label, "/")
	num, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, "", &MalformedRecordError{
			LineNo:   p.cur.LineNo() + 1,
			Line:     next,
			Expected: fmt.Sprintf("a numeric %s number", keyword),
		}
	}
	return num, label, nil
}

func (p *parser) onSQ() error {
	p.record()
	for {
		next, ok := p.cur.Peek(1)
		if !ok || Classify(next) == LineTerminator {
			return nil
		}
		p.cur.Next()
		fields := strings.Fields(next)
		if n := len(fields); n > 0 && isCounter(fields[n-1]) {
			fields = fields[:n-1]
		}
		for _, chunk := range fields {
			p.seq.WriteString(strings.ToUpper(chunk))
		}
	}
}

func isCounter(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func (p *parser) onTerminator() error {
	if p.rec == nil {
		return p.malformed("an ID line before the record terminator")
	}
	rec := p.rec
	rec.Sequence = p.seq.String()
	rec.Release = p.release
	if err := rec.resolve(p.cur.LineNo()); err != nil {
		return err
	}
	p.records = append(p.records, rec)
	p.rec = nil
	p.seq.Reset()
	return nil
}
