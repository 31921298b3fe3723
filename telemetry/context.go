package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/baggage"
)

// Correlation baggage keys attached to request contexts so logs and metrics
// from different subsystems can be joined per session and per workflow.
const (
	BaggageSessionID  = "session_id"
	BaggageUserID     = "user_id"
	BaggageWorkflowID = "workflow_id"
	BaggageAgentID    = "agent_id"
)

// WithCorrelation attaches the given correlation fields to ctx as OTel
// baggage. Empty values are skipped; an unparsable member leaves the
// context unchanged rather than failing the request.
func WithCorrelation(ctx context.Context, fields map[string]string) context.Context {
	bag := baggage.FromContext(ctx)
	for k, v := range fields {
		if v == "" {
			continue
		}
		member, err := baggage.NewMember(k, v)
		if err != nil {
			continue
		}
		next, err := bag.SetMember(member)
		if err != nil {
			continue
		}
		bag = next
	}
	return baggage.ContextWithBaggage(ctx, bag)
}

// WithSession is shorthand for the common user+session correlation pair.
func WithSession(ctx context.Context, userID, sessionID string) context.Context {
	return WithCorrelation(ctx, map[string]string{
		BaggageUserID:    userID,
		BaggageSessionID: sessionID,
	})
}

// BaggageFromContext extracts every baggage member as a flat map, the form
// the loggers and the metrics registry consume.
func BaggageFromContext(ctx context.Context) map[string]string {
	if ctx == nil {
		return nil
	}
	bag := baggage.FromContext(ctx)
	if bag.Len() == 0 {
		return nil
	}
	out := make(map[string]string, bag.Len())
	for _, m := range bag.Members() {
		out[m.Key()] = m.Value()
	}
	return out
}
