package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	seen []Type
	fail bool
}

func (r *recorder) record(t Type) error {
	r.seen = append(r.seen, t)
	if r.fail {
		return errors.New("handler failed")
	}
	return nil
}

func (r *recorder) VisitBalanceUpdated(context.Context, BalanceUpdated) error {
	return r.record(TypeBalanceUpdated)
}
func (r *recorder) VisitCouponIssued(context.Context, CouponIssued) error {
	return r.record(TypeCouponIssued)
}
func (r *recorder) VisitOrderCompleted(context.Context, OrderCompleted) error {
	return r.record(TypeOrderCompleted)
}
func (r *recorder) VisitProductUpdated(context.Context, ProductUpdated) error {
	return r.record(TypeProductUpdated)
}

func TestCodec_RoundTripPreservesKind(t *testing.T) {
	orderID := int64(44)
	prev := decimal.RequireFromString("10.00")
	now := time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC)
	cases := []Event{
		BalanceUpdated{UserID: 1, Amount: decimal.NewFromInt(5000), CurrentBalance: decimal.NewFromInt(105000), Kind: BalanceDeducted, OrderID: &orderID, OccurredAt: now},
		CouponIssued{CouponID: 2, UserID: 1, Kind: CouponEventIssued, OccurredAt: now},
		OrderCompleted{OrderID: 44, UserID: 1, Items: []OrderItem{{ProductID: 3, Quantity: 2}}, CompletedAt: now},
		ProductUpdated{ProductID: 3, Kind: ProductChanged, Price: decimal.RequireFromString("12.50"), PreviousPrice: &prev, OccurredAt: now},
	}

	for _, evt := range cases {
		typ, data, err := Encode(evt)
		require.NoError(t, err)

		decoded, err := Decode(typ, data)
		require.NoError(t, err)
		assert.Equal(t, evt.EventType(), decoded.EventType())
	}

	_, err := Decode("nope", []byte(`{}`))
	assert.Error(t, err)
}

func TestCodec_DecodedProductEventDiffsPrice(t *testing.T) {
	prev := decimal.RequireFromString("10.00")
	typ, data, err := Encode(ProductUpdated{ProductID: 3, Kind: ProductChanged, Price: decimal.RequireFromString("10.0"), PreviousPrice: &prev})
	require.NoError(t, err)

	decoded, err := Decode(typ, data)
	require.NoError(t, err)
	assert.False(t, decoded.(ProductUpdated).PriceChanged())
}

func TestDispatcher_VisitsEveryHandler(t *testing.T) {
	first := &recorder{fail: true}
	second := &recorder{}
	d := NewDispatcher(first, second)

	err := d.Dispatch(context.Background(), OrderCompleted{OrderID: 1})

	assert.Error(t, err)
	assert.Equal(t, []Type{TypeOrderCompleted}, first.seen)
	assert.Equal(t, []Type{TypeOrderCompleted}, second.seen)
}

func TestEventIDContext(t *testing.T) {
	ctx := ContextWithEventID(context.Background(), "01HZX")
	assert.Equal(t, "01HZX", EventIDFromContext(ctx))
	assert.Empty(t, EventIDFromContext(context.Background()))
}
