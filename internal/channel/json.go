package channel

import (
	"encoding/json"
	"fmt"
)

// SubscribeJSON subscribes with a handler that decodes each payload into T.
// Unknown fields are ignored.
func SubscribeJSON[T any](ch Channel, topic string, fn func(T)) (Subscription, error) {
	return ch.Subscribe(topic, func(body []byte) error {
		var v T
		if err := json.Unmarshal(body, &v); err != nil {
			return err
		}
		fn(v)
		return nil
	})
}

func marshalPayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}
