package httpserver

const (
	ErrInvalidJSON   = "invalid json"
	ErrMissingFields = "missing fields"
	ErrNotFound      = "not found"
	ErrDependency    = "dependency error"
)
