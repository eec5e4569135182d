package driven

// PayloadValidator checks mutation payloads before they are queued.
type PayloadValidator interface {
	// Validate returns an error wrapping domain.ErrInvalidInput when payload
	// does not satisfy the schema for entityType.
	Validate(entityType string, payload []byte) error
}
