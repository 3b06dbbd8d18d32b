package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kaonic/k1serial/internal/models"
)

const registrationColumns = `id, factory_name, public_key, status, created_at, approved_at, approved_by`

// CreateKeyRegistration inserts reg unless its public key is already stored.
// On conflict reg is overwritten with the existing row and created is false.
func (db *DB) CreateKeyRegistration(ctx context.Context, reg *models.KeyRegistration) (bool, error) {
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO public_key_requests (factory_name, public_key, status, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (public_key) DO NOTHING
		RETURNING id
	`, reg.TenantName, reg.PublicKey, string(reg.Status), reg.CreatedAt).Scan(&reg.ID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, storageErr("create key registration", err)
	}

	existing, err := db.GetKeyRegistrationByPublicKey(ctx, reg.PublicKey)
	if err != nil {
		return false, err
	}
	*reg = *existing
	return false, nil
}

// GetKeyRegistrationByID returns a registration by id.
func (db *DB) GetKeyRegistrationByID(ctx context.Context, id int64) (*models.KeyRegistration, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+registrationColumns+` FROM public_key_requests WHERE id = $1`, id)
	reg, err := scanKeyRegistration(row)
	if err != nil {
		return nil, storageErr(fmt.Sprintf("get key registration %d", id), err)
	}
	return reg, nil
}

// GetKeyRegistrationByPublicKey returns the registration holding a canonical key.
func (db *DB) GetKeyRegistrationByPublicKey(ctx context.Context, publicKey string) (*models.KeyRegistration, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+registrationColumns+` FROM public_key_requests WHERE public_key = $1`, publicKey)
	reg, err := scanKeyRegistration(row)
	if err != nil {
		return nil, storageErr("get key registration by public key", err)
	}
	return reg, nil
}

// GetLatestApprovedRegistration returns the newest approval for a factory label,
// compared case-insensitively.
func (db *DB) GetLatestApprovedRegistration(ctx context.Context, tenant string) (*models.KeyRegistration, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+registrationColumns+`
		FROM public_key_requests
		WHERE LOWER(factory_name) = LOWER($1) AND status = 'approved'
		ORDER BY approved_at DESC NULLS LAST, id DESC
		LIMIT 1
	`, models.NormalizeTenantName(tenant))
	reg, err := scanKeyRegistration(row)
	if err != nil {
		return nil, storageErr("get approved registration", err)
	}
	return reg, nil
}

// ListKeyRegistrations returns registrations newest first, optionally filtered by status.
func (db *DB) ListKeyRegistrations(ctx context.Context, status *models.RegistrationStatus) ([]*models.KeyRegistration, error) {
	query := `SELECT ` + registrationColumns + ` FROM public_key_requests`
	var args []any
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list key registrations", err)
	}
	defer rows.Close()

	var regs []*models.KeyRegistration
	for rows.Next() {
		reg, err := scanKeyRegistration(rows)
		if err != nil {
			return nil, storageErr("scan key registration", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate key registrations", err)
	}
	return regs, nil
}

// SetRegistrationDecision records an approve or deny decision.
func (db *DB) SetRegistrationDecision(ctx context.Context, id int64, status models.RegistrationStatus, actor string, at time.Time) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE public_key_requests
		SET status = $2, approved_at = $3, approved_by = NULLIF($4, '')
		WHERE id = $1
	`, id, string(status), at, actor)
	if err != nil {
		return storageErr("set registration decision", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("registration %d: %w", id, models.ErrNotFound)
	}
	return nil
}

// RevokeRegistration moves an approved registration back to pending.
func (db *DB) RevokeRegistration(ctx context.Context, id int64) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE public_key_requests
		SET status = 'pending', approved_at = NULL, approved_by = NULL
		WHERE id = $1 AND status = 'approved'
	`, id)
	if err != nil {
		return storageErr("revoke registration", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = db.Pool.QueryRow(ctx, `SELECT status FROM public_key_requests WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return storageErr(fmt.Sprintf("revoke registration %d", id), err)
	}
	return fmt.Errorf("registration %d is %s: %w", id, status, models.ErrInvalidTransition)
}

// CountRegistrationsByStatus returns the number of registrations per status.
func (db *DB) CountRegistrationsByStatus(ctx context.Context) (map[string]int64, error) {
	return countByStatus(ctx, db.Pool, `SELECT status, COUNT(*) FROM public_key_requests GROUP BY status`)
}

func scanKeyRegistration(row pgx.Row) (*models.KeyRegistration, error) {
	var reg models.KeyRegistration
	var status string
	if err := row.Scan(
		&reg.ID, &reg.TenantName, &reg.PublicKey, &status,
		&reg.CreatedAt, &reg.ApprovedAt, &reg.ApprovedBy,
	); err != nil {
		return nil, err
	}
	reg.Status = models.RegistrationStatus(status)
	return &reg, nil
}

func countByStatus(ctx context.Context, q querier, query string, args ...any) (map[string]int64, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr("count by status", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, storageErr("scan status count", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate status counts", err)
	}
	return counts, nil
}
