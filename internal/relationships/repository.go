package relationships

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/learnhub/internal/database"
)

type Repository interface {
	Create(ctx context.Context, l *Link) error
	GetByID(ctx context.Context, id uuid.UUID) (*Link, error)
	// FindOpen returns a pending or accepted link of kind between a and b in
	// either direction.
	FindOpen(ctx context.Context, kind Kind, a, b uuid.UUID) (*Link, error)
	Update(ctx context.Context, l *Link) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, userID uuid.UUID, f ListFilter) ([]Link, int64, error)
	// Connected reports whether a and b share any accepted link.
	Connected(ctx context.Context, a, b uuid.UUID) (bool, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const linkColumns = `id, kind, inviter_id, invitee_id, link_type, status, invitation_code,
	permissions, is_primary_contact, is_active, responded_at, created_at, updated_at`

func scanLink(row pgx.Row) (*Link, error) {
	l := &Link{}
	err := row.Scan(&l.ID, &l.Kind, &l.InviterID, &l.InviteeID, &l.LinkType, &l.Status,
		&l.InvitationCode, &l.Permissions, &l.IsPrimaryContact, &l.IsActive,
		&l.RespondedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (r *postgresRepository) Create(ctx context.Context, l *Link) error {
	return InsertLink(ctx, r.pool, l)
}

// InsertLink writes l using db, which may be a pool or an open transaction.
// Registration uses it to create a parent link in the same transaction as the
// new user.
func InsertLink(ctx context.Context, db database.DBTX, l *Link) error {
	query := `
		INSERT INTO relationship_links (id, kind, inviter_id, invitee_id, link_type, status,
		                                invitation_code, permissions, is_primary_contact, is_active,
		                                created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := db.Exec(ctx, query,
		l.ID, l.Kind, l.InviterID, l.InviteeID, l.LinkType, l.Status,
		l.InvitationCode, l.Permissions, l.IsPrimaryContact, l.IsActive,
		l.CreatedAt, l.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "idx_relationship_links_open") {
			return ErrDuplicateLink
		}
		return fmt.Errorf("inserting relationship link: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Link, error) {
	query := `SELECT ` + linkColumns + ` FROM relationship_links WHERE id = $1`

	l, err := scanLink(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying relationship link: %w", err)
	}
	return l, nil
}

func (r *postgresRepository) FindOpen(ctx context.Context, kind Kind, a, b uuid.UUID) (*Link, error) {
	query := `
		SELECT ` + linkColumns + `
		FROM relationship_links
		WHERE kind = $1
		  AND status IN ('pending', 'accepted')
		  AND ((inviter_id = $2 AND invitee_id = $3) OR (inviter_id = $3 AND invitee_id = $2))
		LIMIT 1`

	l, err := scanLink(r.pool.QueryRow(ctx, query, kind, a, b))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying open relationship link: %w", err)
	}
	return l, nil
}

func (r *postgresRepository) Update(ctx context.Context, l *Link) error {
	query := `
		UPDATE relationship_links
		SET status = $2, link_type = $3, permissions = $4, is_primary_contact = $5,
		    is_active = $6, responded_at = $7, updated_at = $8
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		l.ID, l.Status, l.LinkType, l.Permissions, l.IsPrimaryContact,
		l.IsActive, l.RespondedAt, l.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating relationship link: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM relationship_links WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting relationship link: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *postgresRepository) List(ctx context.Context, userID uuid.UUID, f ListFilter) ([]Link, int64, error) {
	where := []string{"(inviter_id = $1 OR invitee_id = $1)"}
	args := []any{userID}
	if f.Kind != "" {
		args = append(args, f.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM relationship_links WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting relationship links: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM relationship_links
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, linkColumns, cond, len(args)+1, len(args)+2)

	rows, err := r.pool.Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing relationship links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning relationship link: %w", err)
		}
		links = append(links, *l)
	}
	return links, total, rows.Err()
}

func (r *postgresRepository) Connected(ctx context.Context, a, b uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM relationship_links
			WHERE status = 'accepted' AND is_active
			  AND ((inviter_id = $1 AND invitee_id = $2) OR (inviter_id = $2 AND invitee_id = $1)))`

	var ok bool
	if err := r.pool.QueryRow(ctx, query, a, b).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking relationship: %w", err)
	}
	return ok, nil
}
