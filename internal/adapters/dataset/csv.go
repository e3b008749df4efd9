package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/veyra/demandlens/internal/domain/model"
)

// timeLayouts are the timestamp shapes seen across scraper exports.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

type productInfo struct {
	segment string
	price   *float64
}

// ReviewCSVReader streams ReviewRecords from the scraper's reviews export,
// optionally joined with its products export for segment and price
// fallbacks.
type ReviewCSVReader struct {
	csv     *csv.Reader
	columns map[string]int
	join    map[string]productInfo
	row     int
}

// NewReviewCSVReader reads both headers up front. products may be nil when
// no join file exists. The reviews feed must carry product_id, timestamp,
// and rating columns; aliases from older exports are normalized.
func NewReviewCSVReader(reviews, products io.Reader) (*ReviewCSVReader, error) {
	join, err := readProductJoin(products)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(reviews)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read reviews header: %w", err)
	}
	columns := normalizeHeader(header)
	for _, required := range []string{"product_id", "timestamp", "rating"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}
	return &ReviewCSVReader{csv: cr, columns: columns, join: join, row: 1}, nil
}

// Next returns the next record, io.EOF at the end of the feed, or a
// row-numbered error wrapping model.ErrMalformedRecord. Rows are numbered
// from 1 at the header, matching spreadsheet line numbers.
func (r *ReviewCSVReader) Next() (model.ReviewRecord, error) {
	row, err := r.csv.Read()
	if errors.Is(err, io.EOF) {
		return model.ReviewRecord{}, io.EOF
	}
	if err != nil {
		return model.ReviewRecord{}, fmt.Errorf("read reviews feed: %w", err)
	}
	r.row++

	rec := model.ReviewRecord{
		ProductID:  strings.TrimSpace(r.cellNamed(row, "product_id")),
		Segment:    strings.TrimSpace(r.cellNamed(row, "segment")),
		ReviewText: r.cellNamed(row, "review_text"),
	}

	if raw := strings.TrimSpace(r.cellNamed(row, "timestamp")); raw != "" {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return model.ReviewRecord{}, r.malformed(err)
		}
		rec.Timestamp = ts
	}
	if raw := strings.TrimSpace(r.cellNamed(row, "rating")); raw != "" {
		rating, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.ReviewRecord{}, r.malformed(fmt.Errorf("bad rating %q", raw))
		}
		rec.Rating = rating
	}
	if raw := strings.TrimSpace(r.cellNamed(row, "helpfulness_votes")); raw != "" {
		votes, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.ReviewRecord{}, r.malformed(fmt.Errorf("bad helpfulness_votes %q", raw))
		}
		rec.HelpfulnessVotes = int(votes)
	}
	if raw := strings.TrimSpace(r.cellNamed(row, "sentiment_score")); raw != "" {
		score, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.ReviewRecord{}, r.malformed(fmt.Errorf("bad sentiment_score %q", raw))
		}
		rec.SentimentScore = &score
	}
	if raw := strings.TrimSpace(r.cellNamed(row, "price_at_time")); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return model.ReviewRecord{}, r.malformed(fmt.Errorf("bad price_at_time %q", raw))
		}
		rec.PriceAtTime = &price
	}

	if info, ok := r.join[rec.ProductID]; ok {
		if rec.Segment == "" {
			rec.Segment = info.segment
		}
		if rec.PriceAtTime == nil && info.price != nil {
			price := *info.price
			rec.PriceAtTime = &price
		}
	}

	if err := rec.Validate(); err != nil {
		return model.ReviewRecord{}, fmt.Errorf("row %d: %w", r.row, err)
	}
	return rec, nil
}

// ReadAll drains the feed into memory.
func (r *ReviewCSVReader) ReadAll() ([]model.ReviewRecord, error) {
	var records []model.ReviewRecord
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
}

func (r *ReviewCSVReader) cellNamed(row []string, name string) string {
	i, ok := r.columns[name]
	if !ok {
		return ""
	}
	return cell(row, i)
}

func (r *ReviewCSVReader) malformed(err error) error {
	return fmt.Errorf("row %d: %w: %v", r.row, model.ErrMalformedRecord, err)
}

func readProductJoin(products io.Reader) (map[string]productInfo, error) {
	if products == nil {
		return nil, nil
	}
	cr := csv.NewReader(products)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read products header: %w", err)
	}
	columns := normalizeHeader(header)
	idCol, ok := columns["product_id"]
	if !ok {
		return nil, fmt.Errorf("%w: product_id in products feed", ErrMissingColumn)
	}

	join := make(map[string]productInfo)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return join, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read products feed: %w", err)
		}
		productID := strings.TrimSpace(cell(row, idCol))
		if productID == "" {
			continue
		}
		var info productInfo
		if c, ok := columns["segment"]; ok {
			info.segment = strings.TrimSpace(cell(row, c))
		}
		if c, ok := columns["price_at_time"]; ok {
			if raw := strings.TrimSpace(cell(row, c)); raw != "" {
				price, err := strconv.ParseFloat(raw, 64)
				if err != nil {
					return nil, fmt.Errorf("products feed: %s: %w: bad price %q", productID, model.ErrMalformedRecord, raw)
				}
				info.price = &price
			}
		}
		if _, dup := join[productID]; !dup {
			join[productID] = info
		}
	}
}

// normalizeHeader lowercases, snake_cases, and aliases column names so the
// engine accepts both current and older scraper exports.
func normalizeHeader(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(name, "\uFEFF")
		name = strings.ToLower(strings.TrimSpace(name))
		name = strings.ReplaceAll(name, " ", "_")
		switch name {
		case "pd_id":
			name = "product_id"
		case "submission_time":
			name = "timestamp"
		case "helpfulness":
			name = "helpfulness_votes"
		case "category":
			name = "segment"
		case "price":
			name = "price_at_time"
		}
		if _, exists := columns[name]; !exists {
			columns[name] = i
		}
	}
	return columns
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("bad timestamp %q", raw)
}
