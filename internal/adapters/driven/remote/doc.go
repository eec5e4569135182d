// Package remote implements the driven RemoteClient and BookingSink ports
// over the remote data service's HTTP API.
//
// Resources are read with GET /v1/<resource>. Mutations are written with
// POST (create), PUT (update) or DELETE (delete) on
// /v1/<entity_type>/<entity_id>, carrying the mutation ID in the
// Idempotency-Key header so a replay is applied at most once.
//
// Every failure is returned as a *domain.RemoteError classified from the
// HTTP status or transport error; see Classify.
package remote
