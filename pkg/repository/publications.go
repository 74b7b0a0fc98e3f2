package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-pkgz/repeater/v2"

	"socialscope/pkg/domain"
)

// publicationSQL represents one published item row
type publicationSQL struct {
	ID          int64     `db:"id"`
	Profile     string    `db:"profile"`
	Category    string    `db:"category"`
	ItemID      string    `db:"item_id"`
	Network     string    `db:"network"`
	URL         string    `db:"url"`
	TrendKind   string    `db:"trend_kind"`
	PublishedAt time.Time `db:"published_at"`
}

// MarkPublished records every item of the record as published at the record's
// generation time. Re-inserting an id already present for the profile is a
// no-op, so retried cycles stay idempotent.
func (r *Repository) MarkPublished(ctx context.Context, rec domain.PublicationRecord) error {
	items := rec.Items()
	if len(items) == 0 {
		return nil
	}

	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		tx, err := r.db.BeginTxx(ctx, nil)
		if err != nil {
			if isLockError(err) {
				return err
			}
			return &criticalError{err: fmt.Errorf("begin tx: %w", err)}
		}
		defer func() { _ = tx.Rollback() }()

		query := `
			INSERT OR IGNORE INTO publications (profile, category, item_id, network, url, trend_kind, published_at)
			VALUES (:profile, :category, :item_id, :network, :url, :trend_kind, :published_at)
		`
		for _, item := range items {
			row := publicationSQL{
				Profile:     rec.ProfileName,
				Category:    string(item.Category),
				ItemID:      item.ID,
				Network:     string(item.Network),
				URL:         item.URL,
				TrendKind:   string(item.TrendKind),
				PublishedAt: rec.GeneratedAt,
			}
			if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
				if isLockError(err) {
					return err
				}
				return &criticalError{err: fmt.Errorf("insert publication: %w", err)}
			}
		}

		if err := tx.Commit(); err != nil {
			if isLockError(err) {
				return err
			}
			return &criticalError{err: fmt.Errorf("commit: %w", err)}
		}
		return nil
	})
}

// PublishedIDs returns the item ids published for a profile since the given
// time, i.e. the dedup exclusion set for the next selection pass.
func (r *Repository) PublishedIDs(ctx context.Context, profile string, since time.Time) (map[string]struct{}, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids,
		"SELECT item_id FROM publications WHERE profile = ? AND published_at > ?", profile, since)
	if err != nil {
		return nil, fmt.Errorf("query published ids: %w", err)
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// PublishedCount returns the total number of items published across all
// profiles since the given time. Drives the rolling daily quota.
func (r *Repository) PublishedCount(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM publications WHERE published_at > ?", since)
	if err != nil {
		return 0, fmt.Errorf("count publications: %w", err)
	}
	return count, nil
}

// OldestPublishedSince returns the earliest publication time after the given
// moment. The continuous mode sleeps until that entry ages out of the quota
// window. Returns a zero time when no publication is in the window.
func (r *Repository) OldestPublishedSince(ctx context.Context, since time.Time) (time.Time, error) {
	var oldest sql.NullTime
	err := r.db.GetContext(ctx, &oldest,
		"SELECT MIN(published_at) FROM publications WHERE published_at > ?", since)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("oldest publication: %w", err)
	}
	if !oldest.Valid {
		// MIN over an empty window yields NULL
		return time.Time{}, nil
	}
	return oldest.Time, nil
}

// Prune deletes publications older than the cutoff, bounding store growth.
// Returns the number of removed rows.
func (r *Repository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM publications WHERE published_at <= ?", olderThan)
	if err != nil {
		return 0, fmt.Errorf("prune publications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
