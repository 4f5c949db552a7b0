package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/marketplace/internal/models"
)

type VendorRepo struct {
	pool *pgxpool.Pool
}

func NewVendorRepo(pool *pgxpool.Pool) *VendorRepo {
	return &VendorRepo{pool: pool}
}

func (r *VendorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error) {
	var v models.Vendor
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, name, created_at FROM vendors WHERE id = $1
	`, id).Scan(&v.ID, &v.UserID, &v.Name, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}
