package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depth-sync/internal/core/model"
)

func TestState_ResetKeepsPending(t *testing.T) {
	s := NewState("BTCUSDT", model.DialectSpot)
	_, ok := s.Nonce()
	assert.False(t, ok, "拼接前不应有 nonce")

	s.Buffer(&model.DepthUpdate{FirstID: 1, FinalID: 2})
	s.Reset(&model.Snapshot{
		LastUpdateID: 10,
		TimestampMs:  1700000000000,
		Bids:         []model.Level{{Price: d("100"), Qty: d("1")}},
		Asks:         []model.Level{{Price: d("101"), Qty: d("2")}},
	})

	nonce, ok := s.Nonce()
	require.True(t, ok)
	assert.Equal(t, int64(10), nonce)
	assert.Equal(t, 1, s.PendingLen())
	assert.Equal(t, 1, s.Bids().Len())

	s.DiscardPending()
	assert.Equal(t, 0, s.PendingLen())
}

func TestState_ApplyDelta(t *testing.T) {
	s := NewState("ETHUSDT", model.DialectFuture)
	s.Reset(&model.Snapshot{
		LastUpdateID: 10,
		Bids:         []model.Level{{Price: d("100"), Qty: d("1")}, {Price: d("99"), Qty: d("1")}},
		Asks:         []model.Level{{Price: d("101"), Qty: d("2")}},
	})

	s.ApplyDelta(
		[]model.Level{{Price: d("101"), Qty: d("0")}, {Price: d("102"), Qty: d("5")}},
		[]model.Level{{Price: d("100"), Qty: d("3")}},
		15, 1700000000123,
	)

	nonce, _ := s.Nonce()
	assert.Equal(t, int64(15), nonce)
	assert.Equal(t, int64(1700000000123), s.TimestampMs())

	v := s.View(0)
	assert.Equal(t, "ETHUSDT", v.Symbol)
	assert.Equal(t, model.DialectFuture, v.Dialect)
	assert.Equal(t, "2023-11-14T22:13:20.123Z", v.Datetime)
	require.Len(t, v.Asks, 1)
	assert.Equal(t, "102", v.Asks[0].Price.String())
	require.Len(t, v.Bids, 2)
	assert.True(t, v.Bids[0].Qty.Equal(d("3")))
}

func TestState_ViewLimit(t *testing.T) {
	s := NewState("BTCUSDT", model.DialectSpot)
	s.Reset(&model.Snapshot{
		LastUpdateID: 1,
		Bids:         []model.Level{{Price: d("3"), Qty: d("1")}, {Price: d("2"), Qty: d("1")}, {Price: d("1"), Qty: d("1")}},
	})

	v := s.View(2)
	assert.Len(t, v.Bids, 2)
	assert.Empty(t, v.Asks)
	assert.Empty(t, v.Datetime)
}
