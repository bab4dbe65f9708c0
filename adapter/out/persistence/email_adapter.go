// Package persistence provides PostgreSQL adapters implementing the
// outbound repository ports.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"alert_worker/core/domain"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// EmailAdapter implements out.RawEmailRepository.
type EmailAdapter struct {
	db *sqlx.DB
}

func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db}
}

const emailSelectColumns = `
	id, folder, uid, message_id, subject, from_address, to_addresses, cc_addresses,
	date_header, headers, body_text, body_html, ics_content, attachments, raw_mime,
	parse_status, parse_error, created_at, processed_at`

type emailRow struct {
	ID          uuid.UUID      `db:"id"`
	Folder      string         `db:"folder"`
	UID         int64          `db:"uid"`
	MessageID   sql.NullString `db:"message_id"`
	Subject     sql.NullString `db:"subject"`
	FromAddress sql.NullString `db:"from_address"`
	ToAddresses pq.StringArray `db:"to_addresses"`
	CcAddresses pq.StringArray `db:"cc_addresses"`
	DateHeader  sql.NullTime   `db:"date_header"`
	Headers     []byte         `db:"headers"`
	BodyText    sql.NullString `db:"body_text"`
	BodyHTML    sql.NullString `db:"body_html"`
	ICSContent  sql.NullString `db:"ics_content"`
	Attachments []byte         `db:"attachments"`
	RawMIME     []byte         `db:"raw_mime"`
	ParseStatus string         `db:"parse_status"`
	ParseError  sql.NullString `db:"parse_error"`
	CreatedAt   time.Time      `db:"created_at"`
	ProcessedAt sql.NullTime   `db:"processed_at"`
}

func (r *emailRow) toEntity() (*domain.RawEmail, error) {
	e := &domain.RawEmail{
		ID:          r.ID,
		Folder:      r.Folder,
		UID:         r.UID,
		MessageID:   r.MessageID.String,
		Subject:     r.Subject.String,
		FromAddress: r.FromAddress.String,
		ToAddresses: r.ToAddresses,
		CcAddresses: r.CcAddresses,
		BodyText:    r.BodyText.String,
		BodyHTML:    r.BodyHTML.String,
		ICSContent:  r.ICSContent.String,
		RawMIME:     r.RawMIME,
		ParseStatus: domain.ParseStatus(r.ParseStatus),
		ParseError:  r.ParseError.String,
		CreatedAt:   r.CreatedAt,
	}
	if r.DateHeader.Valid {
		t := r.DateHeader.Time
		e.DateHeader = &t
	}
	if r.ProcessedAt.Valid {
		t := r.ProcessedAt.Time
		e.ProcessedAt = &t
	}
	if err := scanJSON(r.Headers, &e.Headers); err != nil {
		return nil, err
	}
	if err := scanJSON(r.Attachments, &e.Attachments); err != nil {
		return nil, err
	}
	return e, nil
}

// StoreEmail inserts the email and advances the folder cursor in one
// transaction, returning the existing row's id when the (folder, uid)
// pair was already stored. The second return reports whether the row is
// new. A cursor advance failure rolls back the insert, so the poller
// refetches the message and both rows land together on the next pass.
func (a *EmailAdapter) StoreEmail(ctx context.Context, email *domain.RawEmail) (uuid.UUID, bool, error) {
	if email.ID == uuid.Nil {
		email.ID = uuid.New()
	}

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("begin store email: %w", err)
	}
	defer tx.Rollback()

	var (
		id       uuid.UUID
		inserted bool
	)
	err = tx.QueryRowxContext(ctx, `
		INSERT INTO raw_emails (
			id, folder, uid, message_id, subject, from_address, to_addresses, cc_addresses,
			date_header, headers, body_text, body_html, ics_content, attachments, raw_mime,
			parse_status, parse_error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (folder, uid) DO UPDATE SET folder = raw_emails.folder
		RETURNING id, (xmax = 0) AS inserted`,
		email.ID, email.Folder, email.UID,
		nullStr(email.MessageID), nullStr(email.Subject), nullStr(email.FromAddress),
		pq.StringArray(email.ToAddresses), pq.StringArray(email.CcAddresses),
		nullTime(email.DateHeader), jsonbOf(email.Headers),
		nullStr(email.BodyText), nullStr(email.BodyHTML), nullStr(email.ICSContent),
		jsonbOf(email.Attachments), email.RawMIME,
		string(email.ParseStatus), nullStr(email.ParseError),
	).Scan(&id, &inserted)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("store email: %w", err)
	}

	if inserted {
		if err := advanceCursor(ctx, tx, email.Folder, email.UID); err != nil {
			return uuid.Nil, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return uuid.Nil, false, fmt.Errorf("commit store email: %w", err)
	}

	email.ID = id
	return id, inserted, nil
}

// advanceCursor moves the folder cursor forward, never backward.
func advanceCursor(ctx context.Context, tx *sqlx.Tx, folder string, uid int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO folder_cursors (folder, last_uid, last_poll_at, last_success_at, emails_processed)
		VALUES ($1, $2, NOW(), NOW(), 1)
		ON CONFLICT (folder) DO UPDATE SET
			last_uid = GREATEST(folder_cursors.last_uid, EXCLUDED.last_uid),
			last_poll_at = NOW(),
			last_success_at = NOW(),
			last_error = NULL,
			error_count = 0,
			emails_processed = folder_cursors.emails_processed + 1`,
		folder, uid)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

func (a *EmailAdapter) GetEmail(ctx context.Context, id uuid.UUID) (*domain.RawEmail, error) {
	var row emailRow
	err := a.db.GetContext(ctx, &row,
		`SELECT `+emailSelectColumns+` FROM raw_emails WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get email: %w", err)
	}
	return row.toEntity()
}

func (a *EmailAdapter) UpdateParseStatus(ctx context.Context, id uuid.UUID, status domain.ParseStatus, parseErr string) error {
	_, err := a.db.ExecContext(ctx, `
		UPDATE raw_emails
		SET parse_status = $2, parse_error = $3, processed_at = NOW()
		WHERE id = $1`,
		id, string(status), nullStr(parseErr))
	if err != nil {
		return fmt.Errorf("update parse status: %w", err)
	}
	return nil
}

type cursorRow struct {
	Folder          string         `db:"folder"`
	LastUID         int64          `db:"last_uid"`
	LastPollAt      sql.NullTime   `db:"last_poll_at"`
	LastSuccessAt   sql.NullTime   `db:"last_success_at"`
	LastError       sql.NullString `db:"last_error"`
	ErrorCount      int            `db:"error_count"`
	EmailsProcessed int64          `db:"emails_processed"`
}

func (r *cursorRow) toEntity() *domain.FolderCursor {
	c := &domain.FolderCursor{
		Folder:          r.Folder,
		LastUID:         r.LastUID,
		LastError:       r.LastError.String,
		ErrorCount:      r.ErrorCount,
		EmailsProcessed: r.EmailsProcessed,
	}
	if r.LastPollAt.Valid {
		t := r.LastPollAt.Time
		c.LastPollAt = &t
	}
	if r.LastSuccessAt.Valid {
		t := r.LastSuccessAt.Time
		c.LastSuccessAt = &t
	}
	return c
}

func (a *EmailAdapter) GetCursor(ctx context.Context, folder string) (*domain.FolderCursor, error) {
	var row cursorRow
	err := a.db.GetContext(ctx, &row,
		`SELECT folder, last_uid, last_poll_at, last_success_at, last_error, error_count, emails_processed
		 FROM folder_cursors WHERE folder = $1`, folder)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	return row.toEntity(), nil
}

func (a *EmailAdapter) ListCursors(ctx context.Context) ([]*domain.FolderCursor, error) {
	var rows []cursorRow
	err := a.db.SelectContext(ctx, &rows,
		`SELECT folder, last_uid, last_poll_at, last_success_at, last_error, error_count, emails_processed
		 FROM folder_cursors ORDER BY folder`)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	out := make([]*domain.FolderCursor, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

func (a *EmailAdapter) RecordPollError(ctx context.Context, folder string, pollErr error) error {
	msg := ""
	if pollErr != nil {
		msg = pollErr.Error()
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO folder_cursors (folder, last_uid, last_poll_at, last_error, error_count)
		VALUES ($1, 0, NOW(), $2, 1)
		ON CONFLICT (folder) DO UPDATE SET
			last_poll_at = NOW(),
			last_error = EXCLUDED.last_error,
			error_count = folder_cursors.error_count + 1`,
		folder, msg)
	if err != nil {
		return fmt.Errorf("record poll error: %w", err)
	}
	return nil
}

// DeleteOlderThan prunes processed raw emails past retention. Emails
// still pending or quarantined are kept regardless of age.
func (a *EmailAdapter) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := a.db.ExecContext(ctx, `
		DELETE FROM raw_emails
		WHERE created_at < $1
		AND parse_status IN ('success', 'failed', 'rejected')`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune raw emails: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
