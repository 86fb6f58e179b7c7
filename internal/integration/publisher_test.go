package integration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func sampleMove(product string) inventory.StockMove {
	return inventory.StockMove{
		ID:           uuid.New(),
		TenantID:     "acme",
		WarehouseID:  "wh-1",
		ProductID:    product,
		Qty:          decimal.RequireFromString("2.5"),
		FromLocation: "A-01",
		ToLocation:   "STAGE",
		Reason:       inventory.ReasonPick,
		RefModule:    "pick_wave",
		RefID:        uuid.NewString(),
		CreatedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestHandleMovesPostedWritesOneMessagePerMove(t *testing.T) {
	writer := &fakeWriter{}
	pub := NewMovePublisher(writer)
	postedAt := time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC)
	moves := []inventory.StockMove{sampleMove("sku-1"), sampleMove("sku-2")}

	require.NoError(t, pub.HandleMovesPosted(context.Background(), inventory.MovesPostedEvent{Moves: moves, PostedAt: postedAt}))
	require.Len(t, writer.msgs, 2)

	first := writer.msgs[0]
	require.Equal(t, "acme:wh-1:sku-1", string(first.Key))
	require.Equal(t, "acme:wh-1:sku-2", string(writer.msgs[1].Key))

	var body map[string]any
	require.NoError(t, json.Unmarshal(first.Value, &body))
	require.Equal(t, EventMovePosted, body["event"])
	require.Equal(t, moves[0].ID.String(), body["id"])
	require.Equal(t, "2.5", body["qty"])
	require.Equal(t, "pick", body["reason"])
	require.Equal(t, "A-01", body["from_location"])
	require.NotContains(t, body, "variant_id")
}

func TestHandleMovesPostedEmptyEventIsNoop(t *testing.T) {
	writer := &fakeWriter{}
	require.NoError(t, NewMovePublisher(writer).HandleMovesPosted(context.Background(), inventory.MovesPostedEvent{}))
	require.Empty(t, writer.msgs)
}

func TestHandleMovesPostedWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	pub := NewMovePublisher(&fakeWriter{err: boom})

	err := pub.HandleMovesPosted(context.Background(), inventory.MovesPostedEvent{Moves: []inventory.StockMove{sampleMove("sku-1")}})
	require.ErrorIs(t, err, boom)
}

func TestUnconfiguredPublisherFails(t *testing.T) {
	var pub *MovePublisher
	require.Error(t, pub.HandleMovesPosted(context.Background(), inventory.MovesPostedEvent{}))
	require.NoError(t, pub.Close())

	writer := &fakeWriter{}
	require.NoError(t, NewMovePublisher(writer).Close())
	require.True(t, writer.closed)
}
