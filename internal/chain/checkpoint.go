package chain

import (
	"context"
	"fmt"
)

// HeightStore persists the last produced height so a restarted clock never
// moves backwards relative to stored expiries.
type HeightStore interface {
	LoadHeight(ctx context.Context) (Height, error)
	SaveHeight(ctx context.Context, h Height) error
}

// ResumeHeight returns the height a clock should start from: the stored
// height, or floor when that is higher.
func ResumeHeight(ctx context.Context, s HeightStore, floor Height) (Height, error) {
	stored, err := s.LoadHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("load height: %w", err)
	}
	return max(stored, floor), nil
}
