package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// StatsRepository reads recorded device samples for aggregation.
type StatsRepository struct {
	db *sqlx.DB
}

// NewStatsRepository creates the repository.
func NewStatsRepository(db *sqlx.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// AverageTemperature computes the average over every stored sample.
// COALESCE keeps the result well-defined when the table is empty.
func (r *StatsRepository) AverageTemperature(ctx context.Context) (float64, error) {
	var average float64
	if err := r.db.GetContext(ctx,
		&average,
		`SELECT COALESCE(AVG(temperature), 0) FROM device_stats`); err != nil {
		return 0, fmt.Errorf("average temperature: %w", err)
	}
	return average, nil
}
