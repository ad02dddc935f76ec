package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/bizflow/internal/model"
)

// AddSender stores a sender. When the sender is marked default, any other
// default for the same (owner, channel) is cleared.
func (s *Store) AddSender(ctx context.Context, snd model.Sender) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add sender: %w", err)
	}
	defer tx.Rollback()

	if snd.IsDefault {
		_, err := tx.ExecContext(ctx, `
			UPDATE senders SET is_default = 0 WHERE owner = ? AND channel = ?
		`, snd.Owner, string(snd.Channel))
		if err != nil {
			return fmt.Errorf("add sender: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO senders (id, owner, channel, identifier, is_default)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner = excluded.owner,
			channel = excluded.channel,
			identifier = excluded.identifier,
			is_default = excluded.is_default
	`, snd.ID, snd.Owner, string(snd.Channel), snd.Identifier, snd.IsDefault)
	if err != nil {
		return fmt.Errorf("add sender: %w", err)
	}
	return tx.Commit()
}

// DefaultSender returns the default sender for (owner, channel).
func (s *Store) DefaultSender(ctx context.Context, owner string, ch model.Channel) (*model.Sender, error) {
	var snd model.Sender
	var channel string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner, channel, identifier, is_default FROM senders
		WHERE owner = ? AND channel = ? AND is_default = 1
		LIMIT 1
	`, owner, string(ch)).Scan(&snd.ID, &snd.Owner, &channel, &snd.Identifier, &snd.IsDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("default %s sender for %q: %w", ch, owner, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("default %s sender for %q: %w", ch, owner, err)
	}
	snd.Channel = model.Channel(channel)
	return &snd, nil
}

// InsertCommunication records an outbound message in the outbox.
func (s *Store) InsertCommunication(ctx context.Context, c *model.Communication) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO communications
		(id, contact_type, contact_pk, sender_id, channel, recipient, subject, content, status, rule, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, toNullString(c.Contact.Type), toNullString(c.Contact.PK), toNullString(c.SenderID),
		string(c.Channel), c.Recipient, toNullString(c.Subject), c.Content, string(c.Status),
		toNullString(c.Rule), c.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert communication: %w", err)
	}
	return nil
}

// SetCommunicationStatus updates delivery status after a send attempt.
func (s *Store) SetCommunicationStatus(ctx context.Context, id string, status model.CommunicationStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE communications SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set communication status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set communication status %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// ListCommunications returns the outbox, oldest first.
func (s *Store) ListCommunications(ctx context.Context) ([]model.Communication, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contact_type, contact_pk, sender_id, channel, recipient, subject, content, status, rule, created_at
		FROM communications ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list communications: %w", err)
	}
	defer rows.Close()

	out := []model.Communication{}
	for rows.Next() {
		var (
			c                                         model.Communication
			contactType, contactPK, senderID, subject sql.NullString
			ruleName                                  sql.NullString
			channel, status                           string
			createdAt                                 int64
		)
		err := rows.Scan(&c.ID, &contactType, &contactPK, &senderID, &channel, &c.Recipient,
			&subject, &c.Content, &status, &ruleName, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("list communications: %w", err)
		}
		c.Contact = model.EntityRef{Type: contactType.String, PK: contactPK.String}
		c.SenderID = senderID.String
		c.Subject = subject.String
		c.Rule = ruleName.String
		c.Channel = model.Channel(channel)
		c.Status = model.CommunicationStatus(status)
		c.CreatedAt = fromNanos(createdAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list communications: %w", err)
	}
	return out, nil
}
