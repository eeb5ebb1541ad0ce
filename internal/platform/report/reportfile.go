package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// LineLookup resolves an artifact line number to the sample it came from.
type LineLookup interface {
	Lookup(line int) (ordinal int, sample string, ok bool)
}

const (
	reportErrorMarker = "ERROR: "
	reportLineMarker  = " [ line: "
)

// parseReportLine splits "ERROR: <message> [ line: <n> ...]". ok is false for
// lines of any other shape.
func parseReportLine(line string) (msg string, lineNo int, ok bool) {
	_, rest, found := strings.Cut(line, reportErrorMarker)
	if !found {
		return "", 0, false
	}
	msg, ref, found := strings.Cut(rest, reportLineMarker)
	if !found {
		return "", 0, false
	}
	numText, _, _ := strings.Cut(strings.TrimSpace(ref), " ")
	n, err := strconv.Atoi(strings.TrimRight(numText, "]"))
	if err != nil {
		return "", 0, false
	}
	return msg, n, true
}

// ParseReport correlates a tool report with the artifact's line index.
// Messages are grouped per sample and deduplicated in encounter order; lines
// that do not follow the report pattern, or point at no sample, go to the
// general group.
func ParseReport(r io.Reader, idx LineLookup) (*Outcome, error) {
	o := &Outcome{Shape: ShapeReportFile}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		msg, n, ok := parseReportLine(line)
		if !ok {
			o.addGeneral(line)
			continue
		}
		ordinal, sample, ok := idx.Lookup(n)
		if !ok {
			o.addGeneral(line)
			continue
		}
		o.add(ordinal, sample, msg, n)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("report: read report: %w", err)
	}
	o.sortGroups()
	return o, nil
}

// ParseReportFile opens path and parses it with ParseReport.
func ParseReportFile(path string, idx LineLookup) (*Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("report: open report: %w", err)
	}
	defer f.Close()
	return ParseReport(f, idx)
}

// FromToolOutput builds a failure from the tool's own output lines, used when
// a rejected run left no report file.
func FromToolOutput(lines []string) *Outcome {
	return Failed(ShapeToolOutput, lines...)
}
