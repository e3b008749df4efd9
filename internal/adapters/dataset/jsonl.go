package dataset

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/veyra/demandlens/internal/domain/model"
)

// maxLineBytes bounds a single feed line; review texts run long.
const maxLineBytes = 1 << 20

// RecordReader streams ReviewRecords from a JSON-lines feed. A malformed
// line stops the stream: feeds arrive pre-cleaned, so a bad line means
// upstream breakage, not data to skip.
type RecordReader struct {
	scanner *bufio.Scanner
	line    int
}

// NewRecordReader wraps r for line-by-line record reads.
func NewRecordReader(r io.Reader) *RecordReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &RecordReader{scanner: scanner}
}

// Next returns the next record, io.EOF at the end of the feed, or a
// line-numbered error wrapping model.ErrMalformedRecord. Blank lines are
// skipped but still counted.
func (r *RecordReader) Next() (model.ReviewRecord, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}

		var rec model.ReviewRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return model.ReviewRecord{}, fmt.Errorf("line %d: %w: %v", r.line, model.ErrMalformedRecord, err)
		}
		if err := rec.Validate(); err != nil {
			return model.ReviewRecord{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return model.ReviewRecord{}, fmt.Errorf("read feed: %w", err)
	}
	return model.ReviewRecord{}, io.EOF
}

// ReadRecords drains a JSON-lines feed into memory.
func ReadRecords(r io.Reader) ([]model.ReviewRecord, error) {
	reader := NewRecordReader(r)
	var records []model.ReviewRecord
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}
