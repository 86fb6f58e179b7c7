package inventory

import "context"

// IntegrationHandler receives inventory events once their transaction committed.
type IntegrationHandler interface {
	HandleMovesPosted(ctx context.Context, evt MovesPostedEvent) error
}
