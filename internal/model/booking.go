package model

// BookingStatus is the state of a row in the bookings table.  Only the
// status matters to account management: a user holding an active
// booking cannot be deleted.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// ActiveBookingStatuses block account deletion.
var ActiveBookingStatuses = []BookingStatus{BookingPending, BookingConfirmed}
