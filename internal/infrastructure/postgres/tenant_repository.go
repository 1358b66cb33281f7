package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duerelay/duerelay/internal/domain/tenant"
)

// TenantRepository implements tenant.Store.
type TenantRepository struct {
	pool *pgxpool.Pool
}

func NewTenantRepository(pool *pgxpool.Pool) *TenantRepository {
	return &TenantRepository{pool: pool}
}

func (r *TenantRepository) SaveTenant(ctx context.Context, rec *tenant.Record) error {
	var cfg []byte
	if rec.Config != nil {
		var err error
		if cfg, err = json.Marshal(rec.Config); err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenants (tenant_id, token_hash, address, config, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (tenant_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
			address = EXCLUDED.address,
			config = EXCLUDED.config,
			updated_at = now()
	`, rec.ID, rec.TokenHash, rec.Address, cfg, rec.CreatedAt)
	return err
}

func (r *TenantRepository) LoadTenants(ctx context.Context) ([]*tenant.Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT tenant_id, token_hash, address, config, created_at
		FROM tenants ORDER BY created_at ASC, tenant_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*tenant.Record
	for rows.Next() {
		rec, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteTenant removes the record and its credentials together.
func (r *TenantRepository) DeleteTenant(ctx context.Context, tenantID string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tenant_credentials WHERE tenant_id=$1`, tenantID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM tenants WHERE tenant_id=$1`, tenantID)
		return err
	})
}

func (r *TenantRepository) SaveCredentials(ctx context.Context, tenantID string, blob []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tenant_credentials (tenant_id, blob, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (tenant_id) DO UPDATE SET blob = EXCLUDED.blob, updated_at = now()
	`, tenantID, blob)
	return err
}

func (r *TenantRepository) LoadCredentials(ctx context.Context, tenantID string) ([]byte, error) {
	var blob []byte
	err := r.pool.QueryRow(ctx, `SELECT blob FROM tenant_credentials WHERE tenant_id=$1`, tenantID).Scan(&blob)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (r *TenantRepository) DeleteCredentials(ctx context.Context, tenantID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM tenant_credentials WHERE tenant_id=$1`, tenantID)
	return err
}

func scanTenant(row pgx.Row) (*tenant.Record, error) {
	var rec tenant.Record
	var cfg []byte
	if err := row.Scan(&rec.ID, &rec.TokenHash, &rec.Address, &cfg, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if len(cfg) > 0 {
		rec.Config = &tenant.Config{}
		if err := json.Unmarshal(cfg, rec.Config); err != nil {
			return nil, fmt.Errorf("tenant %s: failed to decode config: %w", rec.ID, err)
		}
	}
	return &rec, nil
}
