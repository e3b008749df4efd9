// Package dataset reads review record feeds and writes run outputs. Feeds
// arrive as JSON lines or as the upstream scraper's CSV exports; outputs are
// JSON lines, one document per row.
package dataset

import "fmt"

// Format identifies a supported input feed format.
type Format string

const (
	// FormatJSONL is one ReviewRecord JSON document per line.
	FormatJSONL Format = "jsonl"
	// FormatCSV is the scraper's reviews export, optionally joined with a
	// products export for segment and price fallbacks.
	FormatCSV Format = "csv"
)

// ParseFormat validates a format name from configuration.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSONL, FormatCSV:
		return Format(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}
