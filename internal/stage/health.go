package stage

// Health summarizes the readiness of a task handler.
type Health struct {
	Kind   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(kind string) Health {
	return Health{Kind: kind, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(kind, detail string) Health {
	return Health{Kind: kind, Ready: false, Detail: detail}
}
