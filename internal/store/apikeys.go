package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var ErrInvalidAPIKey = errors.New("invalid api key")

// Tenant is what an API key resolves to.
type Tenant struct {
	ID   uuid.UUID
	Tier string
}

// HashAPIKey is the form keys are stored in; raw keys never reach the
// database.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func (s *Store) LookupAPIKey(ctx context.Context, key string) (*Tenant, error) {
	var tenant Tenant

	err := s.connectionPool.QueryRow(
		ctx,
		`
		SELECT tenant_id, tier
		FROM api_keys
		WHERE key_hash = $1
			AND revoked_at IS NULL
		`,
		HashAPIKey(key),
	).Scan(&tenant.ID, &tenant.Tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}

	return &tenant, nil
}

// CreateAPIKey issues a new random key for the tenant and returns it. Only
// its hash is kept.
func (s *Store) CreateAPIKey(ctx context.Context, tenantID uuid.UUID, tier string) (string, error) {
	key := "gw_" + rand.Text()

	if _, err := s.connectionPool.Exec(
		ctx,
		`INSERT INTO api_keys (key_hash, tenant_id, tier) VALUES ($1, $2, $3)`,
		HashAPIKey(key),
		tenantID,
		tier,
	); err != nil {
		return "", fmt.Errorf("insert api key: %w", err)
	}

	return key, nil
}
