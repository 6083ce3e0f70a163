package availability

import (
	"errors"
	"fmt"
	"time"

	"staybook/internal/domain/shared/daterange"
)

var (
	ErrInvalidRange        = errors.New("availability: invalid date range")
	ErrCheckInInPast       = fmt.Errorf("%w: check-in date is in the past", ErrInvalidRange)
	ErrStayLengthViolation = errors.New("availability: stay length outside allowed bounds")
	ErrDateConflict        = errors.New("availability: dates are not available")
)

// StayLengthError reports the allowed bounds so the guest can adjust the request.
type StayLengthError struct {
	Nights    int
	MinNights int
	MaxNights int
}

func (e *StayLengthError) Error() string {
	if e.MaxNights > 0 {
		return fmt.Sprintf("availability: stay of %d nights outside [%d, %d]", e.Nights, e.MinNights, e.MaxNights)
	}
	return fmt.Sprintf("availability: stay of %d nights shorter than %d", e.Nights, e.MinNights)
}

func (e *StayLengthError) Is(target error) bool { return target == ErrStayLengthViolation }

// ConflictError carries the bounds of the blocking occupancy, never its owner.
type ConflictError struct {
	Range daterange.DateRange
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("availability: dates conflict with an existing stay %s..%s",
		e.Range.CheckIn.Format(time.DateOnly), e.Range.CheckOut.Format(time.DateOnly))
}

func (e *ConflictError) Is(target error) bool { return target == ErrDateConflict }

// Policy holds the stay-length bounds of a property. MaxNights == 0 means unbounded.
type Policy struct {
	MinNights int
	MaxNights int
}

// Occupancy is a range held by some booking. Only active occupancies block.
type Occupancy struct {
	Range  daterange.DateRange
	Active bool
}

type Request struct {
	CheckIn  time.Time
	CheckOut time.Time
	Policy   Policy
	Existing []Occupancy
	Now      time.Time
}

// Check validates, in order, the range shape, the stay length and conflicts.
func Check(req Request) (daterange.DateRange, error) {
	dr, err := ValidateRange(req.CheckIn, req.CheckOut, req.Now)
	if err != nil {
		return daterange.DateRange{}, err
	}
	if err := CheckStayLength(dr, req.Policy); err != nil {
		return daterange.DateRange{}, err
	}
	if conflict := FindConflict(dr, req.Existing); conflict != nil {
		return daterange.DateRange{}, conflict
	}
	return dr, nil
}

func ValidateRange(checkIn, checkOut, now time.Time) (daterange.DateRange, error) {
	dr, err := daterange.New(checkIn, checkOut)
	if err != nil {
		return daterange.DateRange{}, fmt.Errorf("%w: %v", ErrInvalidRange, err)
	}
	if dr.CheckIn.Before(daterange.Day(now)) {
		return daterange.DateRange{}, ErrCheckInInPast
	}
	return dr, nil
}

func CheckStayLength(dr daterange.DateRange, policy Policy) error {
	nights := dr.Nights()
	minNights := policy.MinNights
	if minNights < 1 {
		minNights = 1
	}
	if nights < minNights || (policy.MaxNights > 0 && nights > policy.MaxNights) {
		return &StayLengthError{Nights: nights, MinNights: minNights, MaxNights: policy.MaxNights}
	}
	return nil
}

// FindConflict returns the first active occupancy overlapping dr, or nil.
func FindConflict(dr daterange.DateRange, existing []Occupancy) *ConflictError {
	for _, occ := range existing {
		if !occ.Active {
			continue
		}
		if dr.Overlaps(occ.Range) {
			return &ConflictError{Range: occ.Range}
		}
	}
	return nil
}
