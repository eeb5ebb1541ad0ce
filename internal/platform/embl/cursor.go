package embl

// Cursor walks the lines of a flat file forward and allows bounded lookahead.
// Line numbers are 1-based.
type Cursor struct {
	lines []string
	pos   int // index of the current line, -1 before the first Next
}

// NewCursor returns a cursor positioned before the first line.
func NewCursor(lines []string) *Cursor {
	return &Cursor{lines: lines, pos: -1}
}

// Next advances to the following line and reports whether one exists.
func (c *Cursor) Next() bool {
	if c.pos+1 >= len(c.lines) {
		c.pos = len(c.lines)
		return false
	}
	c.pos++
	return true
}

// Line returns the current line.
func (c *Cursor) Line() string {
	if c.pos < 0 || c.pos >= len(c.lines) {
		return ""
	}
	return c.lines[c.pos]
}

// LineNo returns the 1-based number of the current line.
func (c *Cursor) LineNo() int {
	return c.pos + 1
}

// Peek returns the line n positions after the current one without moving.
func (c *Cursor) Peek(n int) (string, bool) {
	i := c.pos + n
	if n <= 0 || i < 0 || i >= len(c.lines) {
		return "", false
	}
	return c.lines[i], true
}
