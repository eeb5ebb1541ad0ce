package webin

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	validateSuccessLine = "INFO : The submission has been validated successfully."
	submitSuccessPhrase = "submission has been completed successfully."
	submissionIDMarker  = "was assigned to the submission: "
	infoPrefix          = "INFO : "
)

// OutputLines splits tool output into right-trimmed non-empty lines.
func OutputLines(output string) []string {
	var lines []string
	for _, l := range strings.Split(output, "\n") {
		l = strings.TrimRight(l, " \t\r")
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// tail returns the last two lines, last first.
func tail(lines []string) []int {
	var idx []int
	for i := len(lines) - 1; i >= 0 && i >= len(lines)-2; i-- {
		idx = append(idx, i)
	}
	return idx
}

// ClassifyValidate reports whether a validate run succeeded: its last or
// penultimate output line is the fixed success line. The status message has
// the log-level prefix removed.
func ClassifyValidate(output string) (bool, string) {
	lines := OutputLines(output)
	for _, i := range tail(lines) {
		if lines[i] == validateSuccessLine {
			return true, strings.TrimPrefix(lines[i], infoPrefix)
		}
	}
	return false, ""
}

// ClassifySubmit reports whether a submit run succeeded and extracts the
// submission id the archive assigned.
func ClassifySubmit(output string) (ok bool, id string, status string) {
	lines := OutputLines(output)
	for _, i := range tail(lines) {
		line := lines[i]
		if !strings.Contains(line, submitSuccessPhrase) {
			continue
		}
		if _, after, found := strings.Cut(line, submissionIDMarker); found {
			id = strings.TrimSpace(after)
		}
		status = strings.TrimPrefix(line, infoPrefix)
		if i > 0 {
			status = strings.TrimPrefix(lines[i-1], infoPrefix) + "\n" + status
		}
		return true, id, status
	}
	return false, "", ""
}

// ErrorLines returns the output lines that are not informational, or all
// lines when every line is informational.
func ErrorLines(output string) []string {
	lines := OutputLines(output)
	var errs []string
	for _, l := range lines {
		if !strings.HasPrefix(l, "INFO") {
			errs = append(errs, l)
		}
	}
	if len(errs) == 0 {
		return lines
	}
	return errs
}

// AliasPrefix returns the first two '_'-separated parts of a submission
// alias, which name the artifact.
func AliasPrefix(alias string) string {
	parts := strings.SplitN(alias, "_", 3)
	if len(parts) < 2 {
		return alias
	}
	return parts[0] + "_" + parts[1]
}

// FlatfileName is the artifact file name for a submission alias.
func FlatfileName(alias string) string {
	return AliasPrefix(alias) + "_flatfile.txt.gz"
}

// ReportPath is where the tool writes its report after a rejected run:
// <projectDir>/sequence/<alias>/validate/<alias-prefix>_flatfile.txt.gz.report.
func ReportPath(projectDir, alias string) string {
	return filepath.Join(projectDir, "sequence", alias, "validate", FlatfileName(alias)+".report")
}

// LocateJar returns the highest sorted webin-cli*.jar found in the first
// directory of dirs that has one.
func LocateJar(dirs ...string) (string, error) {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(dir, "webin-cli*.jar"))
		if err != nil {
			return "", fmt.Errorf("webin: search %s: %w", dir, err)
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[len(matches)-1], nil
		}
	}
	return "", &ToolInvocationError{Err: fmt.Errorf("ENA Webin-CLI client not found in %s", strings.Join(dirs, ", "))}
}

// FindReport returns the report path for alias and whether the file exists.
func FindReport(projectDir, alias string) (string, bool) {
	p := ReportPath(projectDir, alias)
	_, err := os.Stat(p)
	return p, err == nil
}
