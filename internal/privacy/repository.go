package privacy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/learnhub/internal/database"
)

type Repository interface {
	Get(ctx context.Context, userID uuid.UUID) (*Settings, error)
	Upsert(ctx context.Context, s *Settings) error
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Get(ctx context.Context, userID uuid.UUID) (*Settings, error) {
	query := `
		SELECT user_id, profile_visibility, default_field_visibility, field_visibility,
		       search_visibility, communication_settings, updated_at
		FROM privacy_settings
		WHERE user_id = $1`

	var (
		s          Settings
		fieldsJSON []byte
		commsJSON  []byte
	)
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.ProfileVisibility, &s.DefaultFieldVisibility, &fieldsJSON,
		&s.SearchVisibility, &commsJSON, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying privacy settings: %w", err)
	}

	if err := json.Unmarshal(fieldsJSON, &s.FieldVisibility); err != nil {
		return nil, fmt.Errorf("decoding field visibility: %w", err)
	}
	if err := json.Unmarshal(commsJSON, &s.CommunicationSettings); err != nil {
		return nil, fmt.Errorf("decoding communication settings: %w", err)
	}
	return &s, nil
}

func (r *postgresRepository) Upsert(ctx context.Context, s *Settings) error {
	return Save(ctx, r.pool, s)
}

// Save writes s using db, which may be a pool or an open transaction.
func Save(ctx context.Context, db database.DBTX, s *Settings) error {
	fieldsJSON, err := json.Marshal(s.FieldVisibility)
	if err != nil {
		return fmt.Errorf("encoding field visibility: %w", err)
	}
	commsJSON, err := json.Marshal(s.CommunicationSettings)
	if err != nil {
		return fmt.Errorf("encoding communication settings: %w", err)
	}

	query := `
		INSERT INTO privacy_settings (user_id, profile_visibility, default_field_visibility,
		                              field_visibility, search_visibility, communication_settings, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			profile_visibility = EXCLUDED.profile_visibility,
			default_field_visibility = EXCLUDED.default_field_visibility,
			field_visibility = EXCLUDED.field_visibility,
			search_visibility = EXCLUDED.search_visibility,
			communication_settings = EXCLUDED.communication_settings,
			updated_at = NOW()`

	_, err = db.Exec(ctx, query,
		s.UserID, s.ProfileVisibility, s.DefaultFieldVisibility,
		fieldsJSON, s.SearchVisibility, commsJSON)
	if err != nil {
		return fmt.Errorf("saving privacy settings: %w", err)
	}
	return nil
}
