// Package identity maps raw email addresses and chat user ids to known
// persons. A miss is a valid outcome, not an error: messages from unknown
// senders persist with no person linkage.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Resolver resolves addresses and chat user ids against the persons tables
type Resolver struct {
	db *sqlx.DB
}

// New creates a new identity resolver
func New(db *sqlx.DB) *Resolver {
	return &Resolver{db: db}
}

// ResolveAddress returns the active person owning the given email address,
// or nil when the address is unknown.
func (r *Resolver) ResolveAddress(ctx context.Context, address string) (*int64, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, nil
	}

	var personID int64
	err := r.db.GetContext(ctx, &personID, `
		SELECT p.id
		FROM persons p
		JOIN person_addresses a ON a.person_id = p.id
		WHERE LOWER(a.address) = $1 AND p.is_active`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve address %q: %w", address, err)
	}
	return &personID, nil
}

// ResolveChatUser returns the active person with the given chat-platform
// user id, or nil when unknown.
func (r *Resolver) ResolveChatUser(ctx context.Context, chatUserID int64) (*int64, error) {
	var personID int64
	err := r.db.GetContext(ctx, &personID, `
		SELECT id FROM persons WHERE chat_user_id = $1 AND is_active`, chatUserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chat user %d: %w", chatUserID, err)
	}
	return &personID, nil
}

// AddPerson creates a person with an optional primary address
func (r *Resolver) AddPerson(ctx context.Context, displayName string, primaryAddress string) (int64, error) {
	var personID int64
	err := r.db.GetContext(ctx, &personID, `
		INSERT INTO persons (display_name) VALUES ($1) RETURNING id`, displayName)
	if err != nil {
		return 0, fmt.Errorf("failed to insert person: %w", err)
	}

	if primaryAddress != "" {
		_, err = r.db.ExecContext(ctx, `
			INSERT INTO person_addresses (person_id, address, is_primary)
			VALUES ($1, LOWER($2), TRUE)`, personID, primaryAddress)
		if err != nil {
			return 0, fmt.Errorf("failed to insert primary address: %w", err)
		}
	}
	return personID, nil
}

// AddAddress associates an additional address with a person. Setting
// isPrimary demotes any existing primary address first, preserving the
// at-most-one-primary invariant.
func (r *Resolver) AddAddress(ctx context.Context, personID int64, address string, isPrimary bool) error {
	if isPrimary {
		_, err := r.db.ExecContext(ctx, `
			UPDATE person_addresses SET is_primary = FALSE WHERE person_id = $1 AND is_primary`, personID)
		if err != nil {
			return fmt.Errorf("failed to demote primary address: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO person_addresses (person_id, address, is_primary)
		VALUES ($1, LOWER($2), $3)`, personID, address, isPrimary)
	if err != nil {
		return fmt.Errorf("failed to insert address: %w", err)
	}
	return nil
}

// Deactivate marks a person inactive. Persons are never hard-deleted.
func (r *Resolver) Deactivate(ctx context.Context, personID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE persons SET is_active = FALSE WHERE id = $1`, personID)
	if err != nil {
		return fmt.Errorf("failed to deactivate person %d: %w", personID, err)
	}
	return nil
}
