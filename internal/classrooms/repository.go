package classrooms

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/learnhub/internal/database"
)

type Repository interface {
	Create(ctx context.Context, c *Classroom) error
	GetByID(ctx context.Context, id uuid.UUID) (*Classroom, error)
	GetByCode(ctx context.Context, code string) (*Classroom, error)
	Update(ctx context.Context, c *Classroom) error
	// Join enrolls studentID while holding the classroom row lock, so the
	// capacity check and the insert cannot race with another join.
	Join(ctx context.Context, classroomID, studentID uuid.UUID) error
	AddTeacher(ctx context.Context, classroomID, teacherID uuid.UUID) error
	IsTeacher(ctx context.Context, classroomID, userID uuid.UUID) (bool, error)
	IsMember(ctx context.Context, classroomID, studentID uuid.UUID) (bool, error)
	ListByTeacher(ctx context.Context, teacherID uuid.UUID, limit, offset int) ([]Classroom, int64, error)
	ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]Classroom, int64, error)
	Members(ctx context.Context, classroomID uuid.UUID) ([]Member, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const classroomColumns = `c.id, c.owner_teacher_id, c.name, c.slug, c.subject, c.grade_level, c.description,
	c.code, c.max_students, c.is_active, c.created_at, c.updated_at,
	(SELECT COUNT(*) FROM classroom_members m WHERE m.classroom_id = c.id)`

func scanClassroom(row pgx.Row) (*Classroom, error) {
	c := &Classroom{}
	err := row.Scan(&c.ID, &c.OwnerTeacherID, &c.Name, &c.Slug, &c.Subject, &c.GradeLevel,
		&c.Description, &c.Code, &c.MaxStudents, &c.IsActive, &c.CreatedAt, &c.UpdatedAt,
		&c.StudentCount)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *postgresRepository) Create(ctx context.Context, c *Classroom) error {
	query := `
		INSERT INTO classrooms (id, owner_teacher_id, name, slug, subject, grade_level, description,
		                        code, max_students, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.OwnerTeacherID, c.Name, c.Slug, c.Subject, c.GradeLevel, c.Description,
		c.Code, c.MaxStudents, c.IsActive, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "classrooms_code_key") {
			return errCodeTaken
		}
		return fmt.Errorf("inserting classroom: %w", err)
	}
	return nil
}

func (r *postgresRepository) get(ctx context.Context, where string, arg any) (*Classroom, error) {
	query := `SELECT ` + classroomColumns + ` FROM classrooms c WHERE ` + where
	c, err := scanClassroom(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying classroom: %w", err)
	}
	return c, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Classroom, error) {
	return r.get(ctx, "c.id = $1", id)
}

func (r *postgresRepository) GetByCode(ctx context.Context, code string) (*Classroom, error) {
	return r.get(ctx, "c.code = $1", code)
}

func (r *postgresRepository) Update(ctx context.Context, c *Classroom) error {
	query := `
		UPDATE classrooms
		SET name = $2, slug = $3, description = $4, max_students = $5, is_active = $6, updated_at = $7
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		c.ID, c.Name, c.Slug, c.Description, c.MaxStudents, c.IsActive, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating classroom: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClassroomNotFound
	}
	return nil
}

func (r *postgresRepository) Join(ctx context.Context, classroomID, studentID uuid.UUID) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var (
			maxStudents int
			active      bool
		)
		err := tx.QueryRow(ctx,
			`SELECT max_students, is_active FROM classrooms WHERE id = $1 FOR UPDATE`,
			classroomID).Scan(&maxStudents, &active)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrClassroomNotFound
		}
		if err != nil {
			return fmt.Errorf("locking classroom: %w", err)
		}
		if !active {
			return ErrClassroomInactive
		}

		var exists bool
		var count int
		err = tx.QueryRow(ctx, `
			SELECT COUNT(*), COALESCE(BOOL_OR(student_id = $2), FALSE)
			FROM classroom_members WHERE classroom_id = $1`,
			classroomID, studentID).Scan(&count, &exists)
		if err != nil {
			return fmt.Errorf("counting members: %w", err)
		}
		if exists {
			return ErrAlreadyMember
		}
		if count >= maxStudents {
			return ErrClassroomFull
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO classroom_members (classroom_id, student_id) VALUES ($1, $2)`,
			classroomID, studentID)
		if err != nil {
			if database.IsUniqueViolation(err, "") {
				return ErrAlreadyMember
			}
			return fmt.Errorf("inserting member: %w", err)
		}
		return nil
	})
}

func (r *postgresRepository) AddTeacher(ctx context.Context, classroomID, teacherID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO classroom_teachers (classroom_id, teacher_id) VALUES ($1, $2)`,
		classroomID, teacherID)
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return ErrAlreadyTeacher
		}
		return fmt.Errorf("adding co-teacher: %w", err)
	}
	return nil
}

func (r *postgresRepository) IsTeacher(ctx context.Context, classroomID, userID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM classrooms WHERE id = $1 AND owner_teacher_id = $2
			UNION ALL
			SELECT 1 FROM classroom_teachers WHERE classroom_id = $1 AND teacher_id = $2
		)`
	var ok bool
	if err := r.pool.QueryRow(ctx, query, classroomID, userID).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking classroom teacher: %w", err)
	}
	return ok, nil
}

func (r *postgresRepository) IsMember(ctx context.Context, classroomID, studentID uuid.UUID) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM classroom_members WHERE classroom_id = $1 AND student_id = $2)`,
		classroomID, studentID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("checking classroom member: %w", err)
	}
	return ok, nil
}

func (r *postgresRepository) list(ctx context.Context, from string, userID uuid.UUID, limit, offset int) ([]Classroom, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM classrooms c `+from, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting classrooms: %w", err)
	}

	query := `SELECT ` + classroomColumns + ` FROM classrooms c ` + from +
		` ORDER BY c.created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing classrooms: %w", err)
	}
	defer rows.Close()

	var out []Classroom
	for rows.Next() {
		c, err := scanClassroom(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning classroom: %w", err)
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

func (r *postgresRepository) ListByTeacher(ctx context.Context, teacherID uuid.UUID, limit, offset int) ([]Classroom, int64, error) {
	return r.list(ctx, `
		WHERE c.owner_teacher_id = $1
		   OR EXISTS (SELECT 1 FROM classroom_teachers t WHERE t.classroom_id = c.id AND t.teacher_id = $1)`,
		teacherID, limit, offset)
}

func (r *postgresRepository) ListByStudent(ctx context.Context, studentID uuid.UUID, limit, offset int) ([]Classroom, int64, error) {
	return r.list(ctx, `
		JOIN classroom_members cm ON cm.classroom_id = c.id AND cm.student_id = $1`,
		studentID, limit, offset)
}

func (r *postgresRepository) Members(ctx context.Context, classroomID uuid.UUID) ([]Member, error) {
	query := `
		SELECT u.id, u.username, u.first_name, u.last_name, m.joined_at
		FROM classroom_members m
		JOIN users u ON u.id = m.student_id
		WHERE m.classroom_id = $1
		ORDER BY m.joined_at`

	rows, err := r.pool.Query(ctx, query, classroomID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var out []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.StudentID, &m.Username, &m.FirstName, &m.LastName, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
