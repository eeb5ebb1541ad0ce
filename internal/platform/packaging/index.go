package packaging

// Origin is the sample a line of the artifact was copied from.
type Origin struct {
	Ordinal int    `json:"ordinal"`
	Sample  string `json:"sample"`
}

// LineIndex maps 1-based artifact line numbers to the sample that produced
// them. Separator lines between samples advance the line counter but have no
// entry. The index is append-only while the artifact is written and read-only
// afterwards.
type LineIndex struct {
	origins []Origin // position i is artifact line i+1; zero Ordinal marks a separator
	samples []string
	entries int
	closed  bool
}

// NewLineIndex returns an empty index.
func NewLineIndex() *LineIndex {
	return &LineIndex{}
}

// beginSample registers the next sample and returns its ordinal.
func (x *LineIndex) beginSample(sample string) int {
	x.samples = append(x.samples, sample)
	return len(x.samples)
}

func (x *LineIndex) addLine(ordinal int) {
	x.origins = append(x.origins, Origin{Ordinal: ordinal, Sample: x.samples[ordinal-1]})
	x.entries++
}

func (x *LineIndex) addSeparator() {
	x.origins = append(x.origins, Origin{})
}

func (x *LineIndex) close() { x.closed = true }

// Lookup returns the origin of an artifact line. ok is false for separator
// lines and line numbers outside the artifact.
func (x *LineIndex) Lookup(line int) (ordinal int, sample string, ok bool) {
	if x == nil || line < 1 || line > len(x.origins) {
		return 0, "", false
	}
	o := x.origins[line-1]
	if o.Ordinal == 0 {
		return 0, "", false
	}
	return o.Ordinal, o.Sample, true
}

// Len is the number of indexed lines.
func (x *LineIndex) Len() int { return x.entries }

// Lines is the total number of artifact lines, separators included.
func (x *LineIndex) Lines() int { return len(x.origins) }

// Samples returns the sample identities in ordinal order.
func (x *LineIndex) Samples() []string {
	out := make([]string, len(x.samples))
	copy(out, x.samples)
	return out
}

// Closed reports whether the artifact the index describes has been closed.
func (x *LineIndex) Closed() bool { return x.closed }

// Entry is one indexed line.
type Entry struct {
	Line int `json:"line"`
	Origin
}

// Entries returns every indexed line in ascending line order.
func (x *LineIndex) Entries() []Entry {
	out := make([]Entry, 0, x.entries)
	for i, o := range x.origins {
		if o.Ordinal == 0 {
			continue
		}
		out = append(out, Entry{Line: i + 1, Origin: o})
	}
	return out
}

// RestoreLineIndex rebuilds an index from stored entries, for example from
// submission history. Missing line numbers become separators.
func RestoreLineIndex(samples []string, entries []Entry) *LineIndex {
	x := &LineIndex{samples: append([]string(nil), samples...), closed: true}
	for _, e := range entries {
		for len(x.origins) < e.Line-1 {
			x.addSeparator()
		}
		x.origins = append(x.origins, e.Origin)
		x.entries++
	}
	return x
}
