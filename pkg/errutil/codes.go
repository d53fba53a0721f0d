package errutil

// CoreStatus is a transport-agnostic error code carried by every domain error.
type CoreStatus string

const (
	StatusUnknown             CoreStatus = "UNKNOWN"
	StatusInternal            CoreStatus = "INTERNAL"
	StatusBadRequest          CoreStatus = "BAD_REQUEST"
	StatusValidationFailed    CoreStatus = "VALIDATION_FAILED"
	StatusUnauthorized        CoreStatus = "UNAUTHORIZED"
	StatusForbidden           CoreStatus = "FORBIDDEN"
	StatusNotFound            CoreStatus = "NOT_FOUND"
	StatusConflict            CoreStatus = "CONFLICT"
	StatusUnprocessableEntity CoreStatus = "UNPROCESSABLE_ENTITY"
	StatusTooManyRequests     CoreStatus = "TOO_MANY_REQUESTS"
	StatusTimeout             CoreStatus = "TIMEOUT"
	StatusBadGateway          CoreStatus = "BAD_GATEWAY"
	StatusServiceUnavailable  CoreStatus = "SERVICE_UNAVAILABLE"
	StatusNotImplemented      CoreStatus = "NOT_IMPLEMENTED"
)

// HasStatus reports whether err carries the given CoreStatus.
func HasStatus(err error, status CoreStatus) bool {
	return StatusOf(err) == status
}
