package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// EventMovePosted is the event header value of every published move.
const EventMovePosted = "stock.move.posted"

// MessageWriter is the subset of *kafka.Writer used by the publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer that hashes on the message key so all moves
// of one product in one warehouse land on the same partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		BatchSize:              100,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// MovePublisher forwards committed stock moves to Kafka. It implements
// inventory.IntegrationHandler.
type MovePublisher struct {
	writer MessageWriter
}

// NewMovePublisher constructs a publisher over writer.
func NewMovePublisher(writer MessageWriter) *MovePublisher {
	return &MovePublisher{writer: writer}
}

type moveMessage struct {
	Event        string          `json:"event"`
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	WarehouseID  string          `json:"warehouse_id"`
	ProductID    string          `json:"product_id"`
	VariantID    string          `json:"variant_id,omitempty"`
	LotID        string          `json:"lot_id,omitempty"`
	Qty          decimal.Decimal `json:"qty"`
	FromLocation string          `json:"from_location,omitempty"`
	ToLocation   string          `json:"to_location,omitempty"`
	Reason       string          `json:"reason"`
	RefModule    string          `json:"ref_module,omitempty"`
	RefID        string          `json:"ref_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	PostedAt     time.Time       `json:"posted_at"`
}

// MessageKey is the partition key of a move.
func MessageKey(move inventory.StockMove) string {
	return move.TenantID + ":" + move.WarehouseID + ":" + move.ProductID
}

// HandleMovesPosted writes one message per move in posting order.
func (p *MovePublisher) HandleMovesPosted(ctx context.Context, evt inventory.MovesPostedEvent) error {
	if p == nil || p.writer == nil {
		return errors.New("integration: publisher not configured")
	}
	if len(evt.Moves) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(evt.Moves))
	for _, move := range evt.Moves {
		body, err := json.Marshal(toMessage(move, evt.PostedAt))
		if err != nil {
			return fmt.Errorf("integration: encode move %s: %w", move.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(MessageKey(move)),
			Value: body,
			Headers: []kafka.Header{
				{Key: "event", Value: []byte(EventMovePosted)},
				{Key: "tenant", Value: []byte(move.TenantID)},
			},
			Time: evt.PostedAt,
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("integration: write moves: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *MovePublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func toMessage(move inventory.StockMove, postedAt time.Time) moveMessage {
	return moveMessage{
		Event:        EventMovePosted,
		ID:           move.ID.String(),
		TenantID:     move.TenantID,
		WarehouseID:  move.WarehouseID,
		ProductID:    move.ProductID,
		VariantID:    move.VariantID,
		LotID:        move.LotID,
		Qty:          move.Qty,
		FromLocation: move.FromLocation,
		ToLocation:   move.ToLocation,
		Reason:       string(move.Reason),
		RefModule:    move.RefModule,
		RefID:        move.RefID,
		CreatedAt:    move.CreatedAt,
		PostedAt:     postedAt,
	}
}
