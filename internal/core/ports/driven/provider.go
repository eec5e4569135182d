package driven

import (
	"context"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// BookingProvider is the rate-limited third-party booking API.
type BookingProvider interface {
	// CountBookings returns the number of bookings a full sync will copy.
	CountBookings(ctx context.Context) (int, error)

	// FetchBookings returns one page starting at cursor. An empty cursor
	// starts from the beginning; an empty NextCursor marks the last page.
	FetchBookings(ctx context.Context, cursor string, limit int) (domain.BookingPage, error)
}

// BookingSink receives synced bookings.
type BookingSink interface {
	// UpsertBookings writes a batch of bookings. Re-sending a booking with
	// the same ExternalID replaces it.
	UpsertBookings(ctx context.Context, bookings []domain.Booking) error
}
