package promotion

// Checkout trigger points at which the engine is invoked with an event.
const (
	EventCouponCodeAdded = "coupon_code_added"
	EventOrderCompleted  = "order_completed"
)

// Payload keys understood by the engine.
const (
	payloadCouponCode   = "coupon_code"
	payloadVisitedPaths = "visited_paths"
)

// Event is an ephemeral checkout trigger. The payload is free-form; the engine
// only interprets the coupon_code and visited_paths keys.
type Event struct {
	Name    string
	Payload map[string]any
}

// CouponCode returns the coupon_code payload value, or "" when absent.
func (e *Event) CouponCode() string {
	if e == nil {
		return ""
	}
	code, _ := e.Payload[payloadCouponCode].(string)
	return code
}

// VisitedPaths returns the visited_paths payload value. Both []string and
// []any (as produced by JSON decoding) are accepted.
func (e *Event) VisitedPaths() []string {
	if e == nil {
		return nil
	}
	switch v := e.Payload[payloadVisitedPaths].(type) {
	case []string:
		return v
	case []any:
		paths := make([]string, 0, len(v))
		for _, p := range v {
			if s, ok := p.(string); ok {
				paths = append(paths, s)
			}
		}
		return paths
	default:
		return nil
	}
}
