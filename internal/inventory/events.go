package inventory

import "time"

// MovesPostedEvent carries the stock moves of one committed operation.
type MovesPostedEvent struct {
	Moves    []StockMove
	PostedAt time.Time
}
