package subscription

import "context"

type Store interface {
	UpsertSubscriptionState(ctx context.Context, s *State) error
	GetSubscriptionState(ctx context.Context, userID string) (*State, error)
}
