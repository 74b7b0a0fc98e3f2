// Package publish delivers finalized publication records to a sheet. The
// Writer interface is the external contract; the shipped implementation
// appends rows to per-profile CSV files. Publisher wraps any writer with
// bounded backoff retries.
package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"

	"socialscope/pkg/domain"
)

//go:generate moq -out mocks/writer.go -pkg mocks -skip-ensure -fmt goimports . Writer

// Writer delivers one publication record to its destination sheet
type Writer interface {
	Publish(ctx context.Context, rec domain.PublicationRecord) error
}

// Publisher retries writer failures with exponential backoff. A record that
// still fails after all attempts is reported back to the caller; the run loop
// logs it and moves on to the next profile.
type Publisher struct {
	writer       Writer
	attempts     int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// NewPublisher creates a retrying publisher around a writer
func NewPublisher(w Writer, attempts int, initialDelay, maxDelay time.Duration) *Publisher {
	if attempts < 1 {
		attempts = 1
	}
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &Publisher{writer: w, attempts: attempts, initialDelay: initialDelay, maxDelay: maxDelay}
}

// Publish delivers the record, retrying recoverable failures
func (p *Publisher) Publish(ctx context.Context, rec domain.PublicationRecord) error {
	retrier := repeater.NewBackoff(p.attempts, p.initialDelay, repeater.WithMaxDelay(p.maxDelay))
	if err := retrier.Do(ctx, func() error { return p.writer.Publish(ctx, rec) }); err != nil {
		return fmt.Errorf("publish for %s failed after %d attempts: %w", rec.ProfileName, p.attempts, err)
	}
	return nil
}
