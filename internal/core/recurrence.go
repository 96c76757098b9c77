package core

import "time"

// Next returns the occurrence that follows from for this interval.
func (i RecurringInterval) Next(from time.Time) time.Time {
	switch i {
	case Daily:
		return from.AddDate(0, 0, 1)
	case Weekly:
		return from.AddDate(0, 0, 7)
	case Monthly:
		return from.AddDate(0, 1, 0)
	case Yearly:
		return from.AddDate(1, 0, 0)
	}
	return from
}
