package storage

import (
	"context"
	"fmt"
)

// ImportResult counts what Import copied.
type ImportResult struct {
	Subscribers int
	Pages       int
	SudoUsers   int
	Channels    int
}

// Import copies every subscription and both access lists from src into dst.
// Subscriptions already in dst are replaced, unless src has none; access list
// entries are merged.
func Import(ctx context.Context, dst Storage, src *JSONFile) (ImportResult, error) {
	var res ImportResult

	snap, err := src.Load(ctx)
	if err != nil {
		return res, fmt.Errorf("load source: %w", err)
	}
	if len(snap) > 0 {
		if err := dst.Save(ctx, snap); err != nil {
			return res, fmt.Errorf("save subscriptions: %w", err)
		}
		res.Subscribers = len(snap)
		for _, pages := range snap {
			res.Pages += len(pages)
		}
	}

	sudoUsers, channels := src.AccessLists()
	for _, id := range sudoUsers {
		if _, err := dst.AddSudoUser(ctx, id); err != nil {
			return res, fmt.Errorf("add sudo user %d: %w", id, err)
		}
		res.SudoUsers++
	}
	for _, id := range channels {
		if _, err := dst.AddChannel(ctx, id); err != nil {
			return res, fmt.Errorf("add channel %d: %w", id, err)
		}
		res.Channels++
	}
	return res, nil
}
