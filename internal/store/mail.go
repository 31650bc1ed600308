package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateMail reports an insert whose Message-ID is already archived.
var ErrDuplicateMail = errors.New("mail already archived")

// MailProjection selects how much of a mail row a lookup loads.
type MailProjection int

const (
	// MailData loads the id and the raw message bytes only.
	MailData MailProjection = iota
	// MailFull loads the whole row plus ordered attachment metadata.
	MailFull
)

// MailForConsumer looks up a mail the consumer holds a dispatch for.
// Returns nil without error when there is no such dispatch-joined mail; the
// caller cannot tell a missing mail from a missing authorization, which is
// the point.
func (s *Store) MailForConsumer(ctx context.Context, consumerID int64, id string, projection MailProjection) (*Mail, []AttachmentMeta, error) {
	if projection == MailData {
		mail := &Mail{}
		err := s.pool.QueryRow(ctx, `
			SELECT m.id, m.data
			FROM dispatch d
			JOIN mail m ON m.id = d.mail_id
			WHERE d.consumer_id = $1 AND d.mail_id = $2`,
			consumerID, id).Scan(&mail.ID, &mail.Data)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("select mail data: %w", err)
		}
		return mail, nil, nil
	}

	var (
		mail *Mail
		atts []AttachmentMeta
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		m := &Mail{}
		err := tx.QueryRow(ctx, `
			SELECT m.id, m.date, m.text, m.data
			FROM dispatch d
			JOIN mail m ON m.id = d.mail_id
			WHERE d.consumer_id = $1 AND d.mail_id = $2`,
			consumerID, id).Scan(&m.ID, &m.Date, &m.Text, &m.Data)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select mail: %w", err)
		}
		atts, err = attachmentsForMail(ctx, tx, id)
		if err != nil {
			return err
		}
		mail = m
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return mail, atts, nil
}

// MailExistsForConsumer reports whether the consumer holds a dispatch for
// the mail.
func (s *Store) MailExistsForConsumer(ctx context.Context, consumerID int64, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM dispatch
			WHERE consumer_id = $1 AND mail_id = $2
		)`, consumerID, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("select dispatch exists: %w", err)
	}
	return exists, nil
}

// AttachmentHandle is a locked attachment row. The handle's transaction
// holds a shared row lock until Release, so a concurrent purge cannot
// remove the row between the metadata read and a payload fetch. Data loads
// the payload lazily within the same transaction.
type AttachmentHandle interface {
	Meta() *AttachmentMeta
	Data(ctx context.Context) ([]byte, error)
	Release(ctx context.Context)
}

type lockedAttachment struct {
	tx     pgx.Tx
	meta   AttachmentMeta
	data   []byte
	loaded bool
}

func (a *lockedAttachment) Meta() *AttachmentMeta {
	return &a.meta
}

func (a *lockedAttachment) Data(ctx context.Context) ([]byte, error) {
	if a.loaded {
		return a.data, nil
	}
	err := a.tx.QueryRow(ctx, `
		SELECT data FROM attachment WHERE mail_id = $1 AND number = $2`,
		a.meta.MailID, a.meta.Number).Scan(&a.data)
	if err != nil {
		return nil, fmt.Errorf("select attachment data: %w", err)
	}
	a.loaded = true
	return a.data, nil
}

func (a *lockedAttachment) Release(ctx context.Context) {
	_ = a.tx.Rollback(ctx)
}

// AttachmentForConsumer looks up one attachment of a dispatch-joined mail,
// taking a shared lock on the attachment row. Returns nil when the consumer
// has no dispatch for the mail or the attachment does not exist. The caller
// must Release the handle.
func (s *Store) AttachmentForConsumer(ctx context.Context, consumerID int64, mailID string, number int) (AttachmentHandle, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	a := &lockedAttachment{tx: tx}
	err = tx.QueryRow(ctx, `
		SELECT a.mail_id, a.number, a.name, a.type, a.code
		FROM dispatch d
		JOIN attachment a ON a.mail_id = d.mail_id
		WHERE d.consumer_id = $1 AND d.mail_id = $2 AND a.number = $3
		FOR SHARE OF a`,
		consumerID, mailID, number).Scan(
		&a.meta.MailID, &a.meta.Number, &a.meta.Name, &a.meta.Type, &a.meta.Code)
	if errors.Is(err, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return nil, nil
	}
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("select attachment: %w", err)
	}
	return a, nil
}

// InsertMail stores a mail and its attachments in one transaction.
// A Message-ID that is already archived reports ErrDuplicateMail.
func (s *Store) InsertMail(ctx context.Context, mail *Mail, attachments []Attachment) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO mail (id, date, text, data)
			VALUES ($1, $2, $3, $4)`,
			mail.ID, mail.Date, mail.Text, mail.Data)
		if err != nil {
			return fmt.Errorf("insert mail: %w", err)
		}
		for i := range attachments {
			a := &attachments[i]
			_, err := tx.Exec(ctx, `
				INSERT INTO attachment (mail_id, number, name, type, code, data)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				mail.ID, a.Number, a.Name, a.Type, a.Code, a.Data)
			if err != nil {
				return fmt.Errorf("insert attachment %d: %w", a.Number, err)
			}
		}
		return nil
	})
	if isUniqueViolation(err, "mail_pkey") {
		return fmt.Errorf("%w: %s", ErrDuplicateMail, mail.ID)
	}
	return err
}

// PurgeOrphanMail deletes mail older than the retention window that no
// dispatch references; attachments follow their mail through the schema
// cascade. Returns the number of mails removed.
func (s *Store) PurgeOrphanMail(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM mail m
		WHERE m.date < now() - make_interval(secs => $1)
		  AND NOT EXISTS (SELECT 1 FROM dispatch d WHERE d.mail_id = m.id)`,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("purge mail: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

// attachmentsForMail loads the ordered attachment metadata of one mail.
func attachmentsForMail(ctx context.Context, tx pgx.Tx, mailID string) ([]AttachmentMeta, error) {
	rows, err := tx.Query(ctx, `
		SELECT mail_id, number, name, type, code
		FROM attachment
		WHERE mail_id = $1
		ORDER BY number`, mailID)
	if err != nil {
		return nil, fmt.Errorf("select attachments: %w", err)
	}
	return scanAttachmentMeta(rows)
}

// attachmentsForMails loads attachment metadata for a set of mails in one
// query, grouped by mail id, each group ordered by number.
func attachmentsForMails(ctx context.Context, tx pgx.Tx, mailIDs []string) (map[string][]AttachmentMeta, error) {
	rows, err := tx.Query(ctx, `
		SELECT mail_id, number, name, type, code
		FROM attachment
		WHERE mail_id = ANY($1)
		ORDER BY mail_id, number`, mailIDs)
	if err != nil {
		return nil, fmt.Errorf("select attachments: %w", err)
	}
	atts, err := scanAttachmentMeta(rows)
	if err != nil {
		return nil, err
	}
	grouped := make(map[string][]AttachmentMeta, len(mailIDs))
	for _, a := range atts {
		grouped[a.MailID] = append(grouped[a.MailID], a)
	}
	return grouped, nil
}

func scanAttachmentMeta(rows pgx.Rows) ([]AttachmentMeta, error) {
	defer rows.Close()

	var result []AttachmentMeta
	for rows.Next() {
		var a AttachmentMeta
		if err := rows.Scan(&a.MailID, &a.Number, &a.Name, &a.Type, &a.Code); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return result, nil
}
