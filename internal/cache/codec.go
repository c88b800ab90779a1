package cache

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/John-Swindell/data-engineering/internal/domain"
)

// encodeTable serializes observation rows to parquet.
func encodeTable(rows []domain.DailyObservation) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := parquet.NewGenericWriter[domain.DailyObservation](buf)

	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			return nil, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeTable deserializes a parquet payload back into observation rows.
// Dates come back in UTC regardless of the writer's zone.
func decodeTable(data []byte) ([]domain.DailyObservation, error) {
	rows, err := parquet.Read[domain.DailyObservation](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	for i := range rows {
		rows[i].Date = rows[i].Date.UTC()
	}
	return rows, nil
}

func encodeJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
