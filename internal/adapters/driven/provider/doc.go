// Package provider implements the BookingProvider port over the external
// booking provider's paged HTTP API.
//
// Every request first waits on a RateLimiter: a token bucket from
// golang.org/x/time/rate plus a hold-off window opened by 429 responses.
package provider
