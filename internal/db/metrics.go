package db

import (
	"fmt"
	"time"
)

// RecordMetric appends a named measurement.
func (s *Store) RecordMetric(name string, value float64) error {
	_, err := s.Exec(`
		INSERT INTO metrics (name, value, recorded_at)
		VALUES (?, ?, ?)
	`, name, value, fmtTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("record metric %s: %w", name, err)
	}
	return nil
}

// SumMetric returns the sum of all recorded values for a metric name. A name
// with no recordings sums to zero.
func (s *Store) SumMetric(name string) (float64, error) {
	var total float64
	err := s.QueryRow(
		"SELECT COALESCE(SUM(value), 0) FROM metrics WHERE name = ?", name,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum metric %s: %w", name, err)
	}
	return total, nil
}
