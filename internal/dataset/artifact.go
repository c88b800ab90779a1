package dataset

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/John-Swindell/data-engineering/internal/domain"
)

// WriteArtifact writes the finished panel to a parquet file at path,
// replacing any existing file.
func WriteArtifact(path string, rows []domain.DailyObservation) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact file: %w", err)
	}

	w := parquet.NewGenericWriter[domain.DailyObservation](f)
	if _, err := w.Write(rows); err != nil {
		f.Close()
		return fmt.Errorf("write artifact rows: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close artifact writer: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close artifact file: %w", err)
	}
	return nil
}

// ReadArtifact loads a panel artifact written by WriteArtifact.
func ReadArtifact(path string) ([]domain.DailyObservation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat artifact file: %w", err)
	}

	rows, err := parquet.Read[domain.DailyObservation](f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("read artifact rows: %w", err)
	}
	for i := range rows {
		rows[i].Date = rows[i].Date.UTC()
	}
	return rows, nil
}
