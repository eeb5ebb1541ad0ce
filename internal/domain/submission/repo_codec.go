package submission

import (
	"encoding/json"
	"fmt"

	"github.com/typeloader/typeloader/internal/platform/packaging"
	"github.com/typeloader/typeloader/internal/platform/report"
)

// The SQL repositories store the sample list, the line index and the
// outcome as JSON columns.

type encodedBatch struct {
	samples []byte
	index   []byte
	outcome []byte // nil while the batch has no outcome
}

func encodeBatch(b *Batch) (encodedBatch, error) {
	var enc encodedBatch
	var err error
	samples := b.Samples
	if samples == nil {
		samples = []string{}
	}
	if enc.samples, err = json.Marshal(samples); err != nil {
		return enc, fmt.Errorf("encode samples: %w", err)
	}
	entries := []packaging.Entry{}
	if b.Index != nil {
		entries = b.Index.Entries()
	}
	if enc.index, err = json.Marshal(entries); err != nil {
		return enc, fmt.Errorf("encode line index: %w", err)
	}
	if b.Outcome != nil {
		if enc.outcome, err = json.Marshal(b.Outcome); err != nil {
			return enc, fmt.Errorf("encode outcome: %w", err)
		}
	}
	return enc, nil
}

func (enc encodedBatch) decodeInto(b *Batch) error {
	if err := json.Unmarshal(enc.samples, &b.Samples); err != nil {
		return fmt.Errorf("decode samples of batch %s: %w", b.ID, err)
	}
	var entries []packaging.Entry
	if len(enc.index) > 0 {
		if err := json.Unmarshal(enc.index, &entries); err != nil {
			return fmt.Errorf("decode line index of batch %s: %w", b.ID, err)
		}
	}
	b.Index = packaging.RestoreLineIndex(b.Samples, entries)
	if len(enc.outcome) > 0 {
		var o report.Outcome
		if err := json.Unmarshal(enc.outcome, &o); err != nil {
			return fmt.Errorf("decode outcome of batch %s: %w", b.ID, err)
		}
		b.Outcome = &o
	}
	return nil
}
