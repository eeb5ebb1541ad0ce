package packaging

import (
	"regexp"
	"strings"
)

const (
	featureDetailPrefix = "FT        "
	createdWithPrefix   = "CC   (file created with"
)

// A fusion intron around a deleted exon is annotated as /number=3/4; the
// submission tool accepts only the first intron number.
var fusionIntron = regexp.MustCompile(`/number=("?)(\d+)/\d+("?)`)

// RewriteLine applies the fixed textual rewrites required by the submission
// tool to one line of a per-sample file. It reports whether the line changed.
// Rewriting an already rewritten line is a no-op.
func RewriteLine(line string) (string, bool) {
	switch {
	case strings.HasPrefix(line, featureDetailPrefix):
		out := fusionIntron.ReplaceAllString(line, `/number=${1}${2}${3}`)
		return out, out != line
	case strings.HasPrefix(line, createdWithPrefix):
		return "", true
	}
	return line, false
}
