// Package report turns the replies of the external archive and its
// submission tool into a SubmissionOutcome, attributing errors to the
// samples that caused them.
package report

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/typeloader/typeloader/internal/platform/apperr"
)

// Shape is the form a reply was recognised in.
type Shape string

const (
	ShapeReceipt    Shape = "receipt"     // well-formed receipt document
	ShapeKeyValue   Shape = "key_value"   // JSON or key:value pairs
	ShapeHTML       Shape = "html"        // HTML error page
	ShapeRaw        Shape = "raw"         // unparseable, passed through
	ShapeReportFile Shape = "report_file" // line-numbered tool report
	ShapeToolOutput Shape = "tool_output" // tool output without report
)

// GeneralKey groups messages that cannot be attributed to a sample.
const GeneralKey = "general problem"

// SampleMessages are the deduplicated messages attributed to one sample.
type SampleMessages struct {
	Key      string   `json:"key"`
	Ordinal  int      `json:"ordinal"`
	Sample   string   `json:"sample"`
	Messages []string `json:"messages"`
	Lines    []int    `json:"lines,omitempty"`
}

// Outcome is either a success carrying the external id, or a failure
// carrying per-sample and general messages.
type Outcome struct {
	Success    bool             `json:"success"`
	ExternalID string           `json:"external_id,omitempty"`
	Status     string           `json:"status,omitempty"`
	Headline   string           `json:"headline,omitempty"`
	Samples    []SampleMessages `json:"samples,omitempty"`
	General    []string         `json:"general,omitempty"`
	Info       string           `json:"info,omitempty"`
	Notes      []string         `json:"notes,omitempty"`
	Shape      Shape            `json:"shape"`
	ParseErr   error            `json:"-"`
}

// Succeeded returns a success outcome.
func Succeeded(externalID, status string) *Outcome {
	return &Outcome{Success: true, ExternalID: externalID, Status: status, Shape: ShapeToolOutput}
}

// Failed returns a failure outcome holding only general messages.
func Failed(shape Shape, general ...string) *Outcome {
	o := &Outcome{Shape: shape}
	for _, m := range general {
		o.addGeneral(m)
	}
	return o
}

// ProblemSamples returns the ordinals of the samples with messages.
func (o *Outcome) ProblemSamples() []int {
	out := make([]int, 0, len(o.Samples))
	for _, s := range o.Samples {
		out = append(out, s.Ordinal)
	}
	return out
}

// Messages returns all messages attributed to sample, or nil.
func (o *Outcome) Messages(sample string) []string {
	for _, s := range o.Samples {
		if s.Sample == sample {
			return s.Messages
		}
	}
	return nil
}

func (o *Outcome) group(ordinal int, sample string) *SampleMessages {
	for i := range o.Samples {
		if o.Samples[i].Ordinal == ordinal {
			return &o.Samples[i]
		}
	}
	o.Samples = append(o.Samples, SampleMessages{
		Key:     SampleKey(ordinal, sample),
		Ordinal: ordinal,
		Sample:  sample,
	})
	return &o.Samples[len(o.Samples)-1]
}

// add records msg for a sample, deduplicating messages and lines in
// encounter order. line 0 means no artifact line is known.
func (o *Outcome) add(ordinal int, sample, msg string, line int) {
	g := o.group(ordinal, sample)
	if !slices.Contains(g.Messages, msg) {
		g.Messages = append(g.Messages, msg)
	}
	if line > 0 && !slices.Contains(g.Lines, line) {
		g.Lines = append(g.Lines, line)
	}
}

func (o *Outcome) addGeneral(msg string) {
	if !slices.Contains(o.General, msg) {
		o.General = append(o.General, msg)
	}
}

// sortGroups orders sample groups by ordinal.
func (o *Outcome) sortGroups() {
	sort.SliceStable(o.Samples, func(i, j int) bool {
		return o.Samples[i].Ordinal < o.Samples[j].Ordinal
	})
}

// SampleKey is the display key of a sample group.
func SampleKey(ordinal int, sample string) string {
	return fmt.Sprintf("Sequence %d (%s)", ordinal, sample)
}

// Err returns nil for a success and a classified error otherwise.
func (o *Outcome) Err() error {
	if o.Success {
		return nil
	}
	if o.ParseErr != nil {
		return o.ParseErr
	}
	return apperr.New(apperr.KindUnknown, o.RenderGroups())
}

// RenderGroups renders the per-sample and general blocks:
//
//	 - Sequence 2 (SAMPLE_B):
//	bad thing
//	(Problematic lines in concatenated flatfile: 12, 14)
func (o *Outcome) RenderGroups() string {
	var b strings.Builder
	for _, g := range o.Samples {
		fmt.Fprintf(&b, " - %s:\n", g.Key)
		for _, m := range g.Messages {
			b.WriteString(m + "\n")
		}
		if len(g.Lines) > 0 {
			lines := make([]string, len(g.Lines))
			for i, l := range g.Lines {
				lines[i] = strconv.Itoa(l)
			}
			fmt.Fprintf(&b, "(Problematic lines in concatenated flatfile: %s)\n", strings.Join(lines, ", "))
		}
	}
	if len(o.General) > 0 {
		fmt.Fprintf(&b, " - %s:\n", GeneralKey)
		for _, m := range o.General {
			b.WriteString(m + "\n")
		}
	}
	return b.String()
}

// Render returns the text shown to the user.
func (o *Outcome) Render() string {
	var b strings.Builder
	if o.Success {
		b.WriteString("Success!")
		if o.Status != "" {
			b.WriteString("\n\n" + o.Status)
		}
	} else {
		if o.Headline != "" {
			b.WriteString(o.Headline + "\n\n")
		}
		b.WriteString(o.RenderGroups())
		b.WriteString("\nThe complete submission has been rejected.")
	}
	for _, n := range o.Notes {
		b.WriteString("\n\n" + n)
	}
	return b.String()
}
