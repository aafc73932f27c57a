// Package fetch runs one request per project id with bounded parallelism.
package fetch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"vaultinsights/internal/domain"
)

// DefaultConcurrency is the number of requests kept in flight when no limit is given.
const DefaultConcurrency = 8

// IssueFunc fetches one project. A non-nil error aborts the whole batch.
type IssueFunc func(ctx context.Context, id int) (domain.FetchOutcome, error)

// Fetch calls issue for every id with at most limit calls in flight and
// returns the outcomes in the order of ids. The first error cancels the
// context handed to in-flight calls, stops dispatching pending ids, and is
// returned without any outcomes.
func Fetch(ctx context.Context, ids []int, limit int, issue IssueFunc) ([]domain.FetchOutcome, error) {
	if limit < 1 {
		limit = 1
	}
	outcomes := make([]domain.FetchOutcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := issue(gctx, id)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
