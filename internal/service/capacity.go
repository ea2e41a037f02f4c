package service

import "github.com/fieldday/fieldday-backend/internal/model"

// HasCapacity reports whether direct enrollment is possible for the offering
// snapshot. Pure check over already-fetched fields; the authoritative
// re-check happens server-side at order creation, because a class can fill
// between initialization and order submission.
func HasCapacity(o *model.Offering) bool {
	return SeatsLeft(o) > 0
}

// SeatsLeft returns the number of open seats in the offering snapshot.
func SeatsLeft(o *model.Offering) int {
	if o == nil {
		return 0
	}
	left := o.Capacity - o.EnrolledCount
	if left < 0 {
		return 0
	}
	return left
}
