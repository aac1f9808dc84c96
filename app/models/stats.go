package models

// DailyStats is a per-day counter for admin charts.
type DailyStats struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}
