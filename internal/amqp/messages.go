package amqp

import (
	"encoding/json"
	"errors"
	"strings"

	"feeledger/internal/core"
)

// RoutingKey returns "<entity_type>.<kind>", e.g. "receipt.create", so
// consumers can bind to the entity types they care about.
func RoutingKey(ev core.ChangeEvent) string {
	return string(ev.EntityType) + "." + strings.ToLower(string(ev.Kind))
}

// EncodeChange converts the event to JSON bytes
func EncodeChange(ev core.ChangeEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeChange parses and checks an event body.
func DecodeChange(data []byte) (core.ChangeEvent, error) {
	var ev core.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return core.ChangeEvent{}, err
	}
	if ev.ID == "" || ev.EntityType == "" || ev.EntityID == "" {
		return core.ChangeEvent{}, errors.New("change event missing id, entity type or entity id")
	}
	return ev, nil
}
