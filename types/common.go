package types

// Updated is returned by partial updates.
type Updated[T any] struct {
	ID          string `json:"id"`
	Message     string `json:"message"`
	DataUpdated *T     `json:"data_updated,omitempty"`
}
