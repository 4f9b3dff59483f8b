package events

import (
	"encoding/json"
	"fmt"
)

// Encode serialises an event payload for storage or transport.
func Encode(e Event) (Type, []byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", e.EventType(), err)
	}
	return e.EventType(), data, nil
}

// Decode is the inverse of Encode.
func Decode(t Type, data []byte) (Event, error) {
	switch t {
	case TypeBalanceUpdated:
		return decodeAs[BalanceUpdated](t, data)
	case TypeCouponIssued:
		return decodeAs[CouponIssued](t, data)
	case TypeOrderCompleted:
		return decodeAs[OrderCompleted](t, data)
	case TypeProductUpdated:
		return decodeAs[ProductUpdated](t, data)
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}

func decodeAs[E Event](t Type, data []byte) (Event, error) {
	var e E
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return e, nil
}
