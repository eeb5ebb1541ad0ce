// Package packaging concatenates per-sample flat files into the single
// compressed artifact handed to the submission tool, and records which sample
// every artifact line came from.
package packaging

import (
	"bufio"
	"compress/gzip"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/typeloader/typeloader/internal/platform/apperr"
)

const maxLineSize = 1 << 20

// Artifact is a closed submission artifact.
type Artifact struct {
	Path     string     `json:"path"`
	Checksum string     `json:"checksum"` // hex MD5 of the compressed file
	Lines    int        `json:"lines"`    // uncompressed lines, separators included
	Samples  []string   `json:"samples"`
	Rewrites int        `json:"rewrites"`
	Skipped  []string   `json:"skipped,omitempty"` // empty sample files left out
	Index    *LineIndex `json:"-"`
}

// Builder writes artifacts.
type Builder struct {
	logger zerolog.Logger
}

// NewBuilder creates a new Builder.
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{logger: logger.With().Str("component", "packaging").Logger()}
}

// SampleID derives the sample identity from a per-sample file path: the base
// name up to the first '.'.
func SampleID(path string) string {
	id, _, _ := strings.Cut(filepath.Base(path), ".")
	return id
}

// Build concatenates the files at paths, in order, into a gzip artifact at
// dest. A blank line separates consecutive samples. Ordinals follow the order
// of paths. Empty sample files are skipped and get no ordinal; an empty input
// list or an artifact without any line is a packaging error.
func (b *Builder) Build(ctx context.Context, paths []string, dest string) (*Artifact, error) {
	if len(paths) == 0 {
		return nil, apperr.New(apperr.KindPackaging, "no sample files to package")
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".artifact-*")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPackaging, "create artifact", err)
	}
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	sum := md5.New()
	w := &artifactWriter{gz: gzip.NewWriter(io.MultiWriter(tmp, sum)), index: NewLineIndex()}
	w.buf = bufio.NewWriter(w.gz)

	var skipped []string
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := w.appendSample(path)
		if err != nil {
			return nil, err
		}
		if !ok {
			skipped = append(skipped, SampleID(path))
			b.logger.Warn().Str("file", path).Msg("sample file is empty, left out of the artifact")
		}
	}
	if err := w.close(); err != nil {
		return nil, apperr.Wrap(apperr.KindPackaging, "write artifact", err)
	}
	if w.index.Len() == 0 {
		return nil, apperr.New(apperr.KindPackaging, "artifact is empty: no usable sample input")
	}
	if err := tmp.Close(); err != nil {
		return nil, apperr.Wrap(apperr.KindPackaging, "close artifact", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, apperr.Wrap(apperr.KindPackaging, "move artifact into place", err)
	}
	tmp = nil

	art := &Artifact{
		Path:     dest,
		Checksum: hexSum(sum),
		Lines:    w.index.Lines(),
		Samples:  w.index.Samples(),
		Rewrites: w.rewrites,
		Skipped:  skipped,
		Index:    w.index,
	}
	b.logger.Info().
		Str("artifact", dest).
		Int("samples", len(art.Samples)).
		Int("lines", art.Lines).
		Int("rewrites", art.Rewrites).
		Str("md5", art.Checksum).
		Msg("artifact built")
	return art, nil
}

type artifactWriter struct {
	gz       *gzip.Writer
	buf      *bufio.Writer
	index    *LineIndex
	samples  int
	rewrites int
}

func (w *artifactWriter) separator() error {
	w.index.addSeparator()
	_, err := w.buf.WriteString("\n")
	return err
}

// appendSample copies one sample file, preceded by a separator unless it is
// the first sample. It reports false, writing nothing, for an empty file.
func (w *artifactWriter) appendSample(path string) (bool, error) {
	sample := SampleID(path)
	f, err := os.Open(path)
	if err != nil {
		return false, apperr.Wrap(apperr.KindPackaging, fmt.Sprintf("open sample file of %s", sample), err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return false, apperr.Wrap(apperr.KindPackaging, fmt.Sprintf("read sample file of %s", sample), err)
		}
		return false, nil
	}

	if w.samples > 0 {
		if err := w.separator(); err != nil {
			return false, apperr.Wrap(apperr.KindPackaging, "write artifact", err)
		}
	}
	w.samples++
	ordinal := w.index.beginSample(sample)
	for {
		line, changed := RewriteLine(sc.Text())
		if changed {
			w.rewrites++
		}
		if _, err := w.buf.WriteString(line + "\n"); err != nil {
			return false, apperr.Wrap(apperr.KindPackaging, "write artifact", err)
		}
		w.index.addLine(ordinal)
		if !sc.Scan() {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return false, apperr.Wrap(apperr.KindPackaging, fmt.Sprintf("read sample file of %s", sample), err)
	}
	return true, nil
}

func (w *artifactWriter) close() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.gz.Close(); err != nil {
		return err
	}
	w.index.close()
	return nil
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
