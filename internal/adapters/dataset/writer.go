package dataset

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/veyra/demandlens/internal/domain/model"
)

func writeJSONL[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return fmt.Errorf("write output line %d: %w", i+1, err)
		}
	}
	return nil
}

// WriteRecordsJSONL writes one review record document per line, the same
// shape the JSONL reader accepts.
func WriteRecordsJSONL(w io.Writer, records []model.ReviewRecord) error {
	return writeJSONL(w, records)
}

// WriteSignalsJSONL writes one signal document per line.
func WriteSignalsJSONL(w io.Writer, signals []model.ProductPeriodSignal) error {
	return writeJSONL(w, signals)
}

// WriteShocksJSONL writes one shock event document per line.
func WriteShocksJSONL(w io.Writer, shocks []model.ShockEvent) error {
	return writeJSONL(w, shocks)
}

// WriteEstimatesJSONL writes one estimate document per line.
func WriteEstimatesJSONL(w io.Writer, estimates []model.SensitivityEstimate) error {
	return writeJSONL(w, estimates)
}

// WriteSkipsJSONL writes one skip document per line.
func WriteSkipsJSONL(w io.Writer, skips []model.EstimateSkip) error {
	return writeJSONL(w, skips)
}

// WriteLabelsJSONL writes one label document per line.
func WriteLabelsJSONL(w io.Writer, labels []model.ResilienceLabel) error {
	return writeJSONL(w, labels)
}
