package mailer

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Martian-dev/leadsync/internal/leads"
)

const DefaultBatchSize = 10

// BulkRequest sends every email from one account.
type BulkRequest struct {
	Emails    []Message `json:"emails" validate:"min=1,max=1000"`
	BatchSize int       `json:"batch_size" validate:"omitempty,min=1,max=100"`
}

// BulkError describes one email of a bulk request that was not sent.
type BulkError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// BulkResult tallies a bulk send.
type BulkResult struct {
	Total      int         `json:"total"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	Errors     []BulkError `json:"errors,omitempty"`
}

// SendBulk sends req.Emails in batches of req.BatchSize, concurrently within
// a batch and pausing between batches. Each email succeeds or fails on its
// own. A cancelled ctx stops before the next batch.
func (s *Service) SendBulk(ctx context.Context, userID, accountID string, req BulkRequest) (*BulkResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, leads.ValidationError(err)
	}
	size := req.BatchSize
	if size == 0 {
		size = DefaultBatchSize
	}

	errs := make([]error, len(req.Emails))
	for start := 0; start < len(req.Emails); start += size {
		if start > 0 && s.batchPause > 0 {
			t := time.NewTimer(s.batchPause)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var g errgroup.Group
		for i := start; i < min(start+size, len(req.Emails)); i++ {
			g.Go(func() error {
				_, errs[i] = s.send(ctx, userID, accountID, req.Emails[i], nil)
				return nil
			})
		}
		_ = g.Wait()
	}

	res := &BulkResult{Total: len(req.Emails)}
	for i, err := range errs {
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, BulkError{Index: i, Error: err.Error()})
			continue
		}
		res.Successful++
	}
	s.log.Info().
		Str("user_id", userID).
		Str("account_id", accountID).
		Int("total", res.Total).
		Int("failed", res.Failed).
		Msg("bulk send finished")
	return res, nil
}
