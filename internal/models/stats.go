package models

import "time"

// DeviceStat is a single numeric sample used by the aggregate worker.
type DeviceStat struct {
	ID          string    `db:"id" json:"id"`
	Temperature float64   `db:"temperature" json:"temperature"`
	RecordedAt  time.Time `db:"recorded_at" json:"recorded_at"`
}
