package connection

// Status is the externally visible state of a connection session.
type Status int32

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusHealthy
	StatusUnhealthy
	StatusShuttingDown
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}
