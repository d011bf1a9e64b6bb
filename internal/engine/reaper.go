package engine

import (
	"context"
	"time"

	"github.com/avigny/cartable/internal/warehouse"
)

// reap deletes one student's homework facts that are still flagged
// temporary and were first seen strictly before the cutoff, i.e. records
// that appeared in exactly one crawl and then vanished before any later
// crawl could confirm them.
//
// The cutoff is the crawl timestamp of the student's latest run whose
// homework file was actually ingested, so a record from that crawl itself
// is never eligible: it has not had a chance to be confirmed yet.
func (e *Engine) reap(ctx context.Context, studentID int64, cutoff time.Time) ([]warehouse.ReapedHomework, error) {
	reaped := []warehouse.ReapedHomework{}

	err := e.db.InTransaction(ctx, func(tx *warehouse.Tx) error {
		candidates, err := tx.TemporaryHomeworkBefore(ctx, studentID, cutoff.Unix())
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if err := tx.DeleteHomework(ctx, c.ID); err != nil {
				return err
			}
		}
		reaped = append(reaped, candidates...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range reaped {
		e.log.Printf("reaped unconfirmed homework %s (first seen %s)", r.NaturalKey, r.FirstSeen)
	}
	return reaped, nil
}
