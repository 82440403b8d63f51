package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/twinbridge/errors"
)

// Decode classifies topic under root, validates data and decodes it into an
// InboundEvent. Errors are classified invalid and wrap either
// errors.ErrParsingFailed or errors.ErrSchemaFailed.
func Decode(root, topic string, data []byte) (InboundEvent, error) {
	t := ParseTopic(root, topic)
	ev := InboundEvent{
		Kind:       t.Kind,
		GridID:     t.GridID,
		Topic:      topic,
		Suffix:     t.Suffix,
		ReceivedAt: time.Now(),
	}

	if !json.Valid(data) {
		return ev, errors.WrapInvalid(errors.ErrParsingFailed, "message", "Decode", "parse JSON")
	}
	if err := validate(t.Kind, data); err != nil {
		return ev, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrSchemaFailed, err),
			"message", "Decode", "validate "+t.Kind.String()+" payload")
	}

	if err := json.Unmarshal(data, &ev.Fields); err != nil {
		return ev, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"message", "Decode", "decode fields")
	}
	ev.Raw = append(json.RawMessage(nil), data...)

	var err error
	switch t.Kind {
	case KindStatus:
		ev.Status = &StatusPayload{}
		err = json.Unmarshal(data, ev.Status)
	case KindAlert:
		ev.Alert = &AlertPayload{}
		err = json.Unmarshal(data, ev.Alert)
		ev.Alert.Fields = ev.Fields
	case KindHealth:
		ev.Health = &HealthPayload{}
		err = json.Unmarshal(data, ev.Health)
	}
	if err != nil {
		return ev, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"message", "Decode", "decode "+t.Kind.String()+" payload")
	}

	return ev, nil
}
