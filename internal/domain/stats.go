// Package domain contains core business types and interfaces.
//
// This file defines the admin statistics read model.
package domain

// Stats is a point-in-time overview of the bot's audience and revenue.
// Activity numbers are derived from usage counters, revenue from completed
// provider payments over the trailing 30 days.
type Stats struct {
	TotalUsers   int64
	NewToday     int64
	NewThisWeek  int64
	NewThisMonth int64

	PremiumUsers int64

	TextToday  int64 // Text messages recorded today
	VoiceToday int64 // Voice messages recorded today

	DAU int64
	WAU int64
	MAU int64

	RevenueKopecks int64   // Completed 'payment' rows, last 30 days
	Conversion     float64 // PremiumUsers / TotalUsers, percent
}
