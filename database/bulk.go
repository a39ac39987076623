package database

import (
	"context"
)

// BulkFailure is one id a bulk operation could not process.
type BulkFailure struct {
	ID  string
	Err error
}

// BulkResult reports what a bulk operation did. Successes are not rolled
// back when others fail.
type BulkResult struct {
	Deleted []string
	Failed  []BulkFailure
}

// OK reports whether every item succeeded.
func (r BulkResult) OK() bool {
	return len(r.Failed) == 0
}

// DeleteMany deletes each id independently, in order, collecting failures.
// It stops early only when ctx is done; the remaining ids are reported as
// failed with the context error.
func (c *Client) DeleteMany(ctx context.Context, table string, ids []string) BulkResult {
	res := BulkResult{Deleted: make([]string, 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, BulkFailure{ID: id, Err: err})
			continue
		}
		if err := c.Delete(ctx, table, id); err != nil {
			res.Failed = append(res.Failed, BulkFailure{ID: id, Err: err})
			continue
		}
		res.Deleted = append(res.Deleted, id)
	}
	return res
}
