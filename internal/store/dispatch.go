package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// RedeliveryDelay is how far into the future a claimed dispatch is
// rescheduled. A consumer that loses a delivery sees the mail again after
// this long.
const RedeliveryDelay = time.Hour

// CreateDispatch schedules a mail for a consumer, due immediately. An
// existing (consumer, mail) dispatch is left untouched; reports whether a
// row was created.
func (s *Store) CreateDispatch(ctx context.Context, consumerID int64, mailID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO dispatch (consumer_id, mail_id)
		VALUES ($1, $2)
		ON CONFLICT (consumer_id, mail_id) DO NOTHING`,
		consumerID, mailID)
	if err != nil {
		return false, fmt.Errorf("insert dispatch: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteDispatch removes the consumer's dispatch for a mail and returns the
// number of rows removed (0 or 1).
func (s *Store) DeleteDispatch(ctx context.Context, consumerID int64, mailID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM dispatch WHERE consumer_id = $1 AND mail_id = $2`,
		consumerID, mailID)
	if err != nil {
		return 0, fmt.Errorf("delete dispatch: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClaimDueBatch claims every due dispatch of the consumer in one statement:
// a data-modifying CTE reschedules the rows and the outer select returns the
// corresponding mail, ordered by the PRE-update next_time. The self-join on
// the dispatch primary key exposes the pre-update value; RETURNING alone
// would yield the rescheduled one. FOR KEY SHARE OF m keeps the attachment
// prefetch in the same transaction consistent with the returned mail rows.
//
// The update and the read are one statement, so the batch is atomic: a crash
// before commit delivers nothing, a crash after delivers nothing twice.
func (s *Store) ClaimDueBatch(ctx context.Context, consumerID int64) ([]ClaimedMail, error) {
	var claimed []ClaimedMail
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			WITH claimed AS (
				UPDATE dispatch d
				SET last_time = now(), next_time = now() + make_interval(secs => $2)
				FROM dispatch old
				WHERE d.consumer_id = $1
				  AND d.next_time <= now()
				  AND old.consumer_id = d.consumer_id
				  AND old.mail_id = d.mail_id
				RETURNING d.mail_id, old.next_time AS due_time
			)
			SELECT m.id, m.date, m.text, m.data
			FROM claimed c
			JOIN mail m ON m.id = c.mail_id
			ORDER BY c.due_time
			FOR KEY SHARE OF m`,
			consumerID, RedeliveryDelay.Seconds())
		if err != nil {
			return fmt.Errorf("claim due dispatches: %w", err)
		}
		claimed, err = scanClaimedMails(rows)
		if err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}

		ids := make([]string, len(claimed))
		for i := range claimed {
			ids[i] = claimed[i].Mail.ID
		}
		atts, err := attachmentsForMails(ctx, tx, ids)
		if err != nil {
			return err
		}
		for i := range claimed {
			claimed[i].Attachments = atts[claimed[i].Mail.ID]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// ClaimNextDue claims the consumer's next due dispatch: lock it, reschedule
// it, load its mail and attachment metadata, commit, all in one transaction.
// Returns nil when nothing is due.
//
// FOR NO KEY UPDATE serializes concurrent claims for the same consumer
// while staying compatible with key-share locks taken through the
// dispatch->mail foreign key, so no explicit mail lock is needed.
func (s *Store) ClaimNextDue(ctx context.Context, consumerID int64) (*ClaimedMail, error) {
	return s.claimOne(ctx, consumerID, nil)
}

// ClaimMail claims one specific dispatch of the consumer if it is due.
// Returns nil when the dispatch is missing or not yet due, which is what a
// stale notification looks like.
func (s *Store) ClaimMail(ctx context.Context, consumerID int64, mailID string) (*ClaimedMail, error) {
	return s.claimOne(ctx, consumerID, &mailID)
}

func (s *Store) claimOne(ctx context.Context, consumerID int64, mailID *string) (*ClaimedMail, error) {
	var claimed *ClaimedMail
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
			SELECT mail_id FROM dispatch
			WHERE consumer_id = $1
			  AND next_time <= now()
			  AND ($2::text IS NULL OR mail_id = $2)
			ORDER BY next_time
			LIMIT 1
			FOR NO KEY UPDATE`,
			consumerID, mailID).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select due dispatch: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE dispatch
			SET last_time = now(), next_time = now() + make_interval(secs => $3)
			WHERE consumer_id = $1 AND mail_id = $2`,
			consumerID, id, RedeliveryDelay.Seconds())
		if err != nil {
			return fmt.Errorf("reschedule dispatch: %w", err)
		}

		c := &ClaimedMail{}
		err = tx.QueryRow(ctx, `
			SELECT id, date, text, data FROM mail WHERE id = $1`, id).Scan(
			&c.Mail.ID, &c.Mail.Date, &c.Mail.Text, &c.Mail.Data)
		if err != nil {
			return fmt.Errorf("select claimed mail: %w", err)
		}
		c.Attachments, err = attachmentsForMail(ctx, tx, id)
		if err != nil {
			return err
		}
		claimed = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func scanClaimedMails(rows pgx.Rows) ([]ClaimedMail, error) {
	defer rows.Close()

	var result []ClaimedMail
	for rows.Next() {
		var c ClaimedMail
		if err := rows.Scan(&c.Mail.ID, &c.Mail.Date, &c.Mail.Text, &c.Mail.Data); err != nil {
			return nil, fmt.Errorf("scan claimed mail: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed mails: %w", err)
	}
	return result, nil
}
