package services

import (
	"github.com/shopspring/decimal"

	"task-marketplace-api/models"
)

var seven = decimal.NewFromInt(7)

// NormalizeTimeline converts day timelines above 6 days into the week
// encoding the product uses everywhere: whole weeks plus remaining days as a
// tenths fraction, so 10 days becomes 1.3 weeks. The days-as-tenths encoding
// is a display convention, not week-fraction math; downstream consumers
// depend on the exact values, so do not change the arithmetic.
func NormalizeTimeline(timeline decimal.Decimal, timelineType models.TimelineType) (decimal.Decimal, models.TimelineType) {
	if timelineType != models.TimelineTypeDay || !timeline.GreaterThan(decimal.NewFromInt(6)) {
		return timeline, timelineType
	}

	weeks := timeline.Div(seven).Floor()
	days := timeline.Mod(seven)
	normalized := weeks.Add(days.Div(decimal.NewFromInt(10)))
	return normalized, models.TimelineTypeWeek
}
