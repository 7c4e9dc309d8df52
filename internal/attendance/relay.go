package attendance

import (
	"context"
	"encoding/json"
	"errors"

	"liveattend/internal/events"
)

// RelayEvent forwards a live-only event from an owning client to the
// session's dashboards. State events owned by the engine are refused.
func (s *Service) RelayEvent(ctx context.Context, caller Caller, sessionID, name string, data json.RawMessage) (events.Name, error) {
	sess, class, err := s.ownedSession(ctx, caller, sessionID)
	if err != nil {
		return "", err
	}
	payload, err := events.DecodeRelayed(name, data)
	if errors.Is(err, events.ErrServerOwned) {
		return "", invalidArgument("event", "event %s cannot be relayed", name)
	}
	if err != nil {
		return "", invalidArgument("data", "%v", err)
	}
	s.emit(ctx, sess, class, payload)
	return payload.EventName(), nil
}
