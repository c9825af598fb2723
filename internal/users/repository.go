package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/learnhub/internal/auth"
	"github.com/learnhub/learnhub/internal/database"
	"github.com/learnhub/learnhub/internal/notify"
	"github.com/learnhub/learnhub/internal/privacy"
	"github.com/learnhub/learnhub/internal/relationships"
)

// Registration is everything written in the sign-up transaction.
type Registration struct {
	User       *User
	Profile    Profile
	Privacy    privacy.Settings
	ParentLink *relationships.Link
}

type Repository interface {
	Create(ctx context.Context, reg *Registration) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	// CheckAvailable returns the sentinel for the first identifier already in
	// use, or nil.
	CheckAvailable(ctx context.Context, email, phone, username string) error
	EmployeeIDExists(ctx context.Context, employeeID string) (bool, error)
	GetRole(ctx context.Context, id uuid.UUID) (string, error)
	GetProfile(ctx context.Context, id uuid.UUID, role Role) (Profile, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, p Profile) error
	UpdateAccount(ctx context.Context, u *User) error
	SetVerified(ctx context.Context, id uuid.UUID, kind auth.VerificationKind) error
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	Contact(ctx context.Context, id uuid.UUID) (notify.Contact, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

const userColumns = `id, email, phone_number, username, password_hash, first_name, last_name,
	date_of_birth, bio, avatar_url, role, is_active, is_verified, is_email_verified,
	is_phone_verified, is_suspended, suspension_reason, two_factor_enabled, two_factor_secret,
	last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Email, &u.Phone, &u.Username, &u.PasswordHash, &u.FirstName,
		&u.LastName, &u.DateOfBirth, &u.Bio, &u.AvatarURL, &u.Role, &u.IsActive, &u.IsVerified,
		&u.IsEmailVerified, &u.IsPhoneVerified, &u.IsSuspended, &u.SuspensionReason,
		&u.TwoFactorEnabled, &u.TwoFactorSecret, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *postgresRepository) Create(ctx context.Context, reg *Registration) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := insertUser(ctx, tx, reg.User); err != nil {
			return err
		}
		if err := saveProfile(ctx, tx, reg.User.ID, reg.Profile, true); err != nil {
			return err
		}
		if err := privacy.Save(ctx, tx, &reg.Privacy); err != nil {
			return err
		}
		if reg.ParentLink != nil {
			if err := relationships.InsertLink(ctx, tx, reg.ParentLink); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertUser(ctx context.Context, db database.DBTX, u *User) error {
	query := `
		INSERT INTO users (id, email, phone_number, username, password_hash, first_name, last_name,
		                   date_of_birth, bio, avatar_url, role, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := db.Exec(ctx, query,
		u.ID, u.Email, u.Phone, u.Username, u.PasswordHash, u.FirstName, u.LastName,
		u.DateOfBirth, u.Bio, u.AvatarURL, u.Role, u.IsActive, u.CreatedAt, u.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case database.IsUniqueViolation(err, "users_email_key"):
		return ErrEmailTaken
	case database.IsUniqueViolation(err, "users_phone_number_key"):
		return ErrPhoneTaken
	case database.IsUniqueViolation(err, "users_username_key"):
		return ErrUsernameTaken
	}
	return fmt.Errorf("inserting user: %w", err)
}

// saveProfile inserts or updates the variant table matching p.
func saveProfile(ctx context.Context, db database.DBTX, userID uuid.UUID, p Profile, insert bool) error {
	var (
		query string
		args  []any
	)
	switch v := p.(type) {
	case *StudentProfile:
		query = `
			INSERT INTO student_profiles (user_id, student_id, grade_level, school_name, gpa, is_minor, parent_email, parent_phone)
			VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5, $6, NULLIF($7, ''), NULLIF($8, ''))
			ON CONFLICT (user_id) DO UPDATE SET
				student_id = EXCLUDED.student_id, grade_level = EXCLUDED.grade_level,
				school_name = EXCLUDED.school_name, gpa = EXCLUDED.gpa,
				parent_email = EXCLUDED.parent_email, parent_phone = EXCLUDED.parent_phone`
		args = []any{userID, v.StudentID, v.GradeLevel, v.SchoolName, v.GPA, v.IsMinor, v.ParentEmail, v.ParentPhone}
	case *TeacherProfile:
		query = `
			INSERT INTO teacher_profiles (user_id, employee_id, subjects, qualifications, years_of_experience, is_verified_educator)
			VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6)
			ON CONFLICT (user_id) DO UPDATE SET
				employee_id = EXCLUDED.employee_id, subjects = EXCLUDED.subjects,
				qualifications = EXCLUDED.qualifications, years_of_experience = EXCLUDED.years_of_experience`
		args = []any{userID, v.EmployeeID, nonNil(v.Subjects), nonNil(v.Qualifications), v.YearsOfExperience, v.IsVerifiedEducator}
	case *ParentProfile:
		query = `
			INSERT INTO parent_profiles (user_id, occupation, number_of_children)
			VALUES ($1, NULLIF($2, ''), $3)
			ON CONFLICT (user_id) DO UPDATE SET
				occupation = EXCLUDED.occupation, number_of_children = EXCLUDED.number_of_children`
		args = []any{userID, v.Occupation, v.NumberOfChildren}
	case *IndividualProfile:
		query = `
			INSERT INTO individual_profiles (user_id, learning_goals, interests, education_level)
			VALUES ($1, $2, $3, NULLIF($4, ''))
			ON CONFLICT (user_id) DO UPDATE SET
				learning_goals = EXCLUDED.learning_goals, interests = EXCLUDED.interests,
				education_level = EXCLUDED.education_level`
		args = []any{userID, nonNil(v.LearningGoals), nonNil(v.Interests), v.EducationLevel}
	case *AdminProfile:
		query = `
			INSERT INTO admin_profiles (user_id, department, permissions)
			VALUES ($1, NULLIF($2, ''), $3)
			ON CONFLICT (user_id) DO UPDATE SET
				department = EXCLUDED.department, permissions = EXCLUDED.permissions`
		args = []any{userID, v.Department, nonNil(v.Permissions)}
	default:
		return fmt.Errorf("%w: unsupported profile %T", ErrInvalidProfile, p)
	}

	if _, err := db.Exec(ctx, query, args...); err != nil {
		if database.IsUniqueViolation(err, "teacher_profiles_employee_id_key") {
			return ErrEmployeeIDTaken
		}
		op := "updating"
		if insert {
			op = "inserting"
		}
		return fmt.Errorf("%s %s profile: %w", op, p.Role(), err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (r *postgresRepository) getBy(ctx context.Context, column string, value any) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`

	u, err := scanUser(r.pool.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying user by %s: %w", column, err)
	}
	return u, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.getBy(ctx, "id", id)
}

func (r *postgresRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getBy(ctx, "email", email)
}

func (r *postgresRepository) GetByPhone(ctx context.Context, phone string) (*User, error) {
	return r.getBy(ctx, "phone_number", phone)
}

func (r *postgresRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getBy(ctx, "username", username)
}

func (r *postgresRepository) CheckAvailable(ctx context.Context, email, phone, username string) error {
	query := `
		SELECT
			EXISTS(SELECT 1 FROM users WHERE $1 <> '' AND email = $1),
			EXISTS(SELECT 1 FROM users WHERE $2 <> '' AND phone_number = $2),
			EXISTS(SELECT 1 FROM users WHERE username = $3)`

	var emailTaken, phoneTaken, usernameTaken bool
	if err := r.pool.QueryRow(ctx, query, email, phone, username).Scan(&emailTaken, &phoneTaken, &usernameTaken); err != nil {
		return fmt.Errorf("checking identifier availability: %w", err)
	}
	switch {
	case emailTaken:
		return ErrEmailTaken
	case phoneTaken:
		return ErrPhoneTaken
	case usernameTaken:
		return ErrUsernameTaken
	}
	return nil
}

func (r *postgresRepository) EmployeeIDExists(ctx context.Context, employeeID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM teacher_profiles WHERE employee_id = $1)`, employeeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking employee id: %w", err)
	}
	return exists, nil
}

func (r *postgresRepository) GetRole(ctx context.Context, id uuid.UUID) (string, error) {
	var role string
	err := r.pool.QueryRow(ctx, `SELECT role FROM users WHERE id = $1`, id).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("querying user role: %w", err)
	}
	return role, nil
}

func (r *postgresRepository) GetProfile(ctx context.Context, id uuid.UUID, role Role) (Profile, error) {
	var (
		p   Profile
		err error
	)
	switch role {
	case RoleStudent:
		v := &StudentProfile{}
		err = r.pool.QueryRow(ctx, `
			SELECT COALESCE(student_id, ''), COALESCE(grade_level, ''), COALESCE(school_name, ''), gpa,
			       is_minor, COALESCE(parent_email, ''), COALESCE(parent_phone, '')
			FROM student_profiles WHERE user_id = $1`, id).
			Scan(&v.StudentID, &v.GradeLevel, &v.SchoolName, &v.GPA, &v.IsMinor, &v.ParentEmail, &v.ParentPhone)
		p = v
	case RoleTeacher:
		v := &TeacherProfile{}
		err = r.pool.QueryRow(ctx, `
			SELECT COALESCE(employee_id, ''), subjects, qualifications, years_of_experience, is_verified_educator
			FROM teacher_profiles WHERE user_id = $1`, id).
			Scan(&v.EmployeeID, &v.Subjects, &v.Qualifications, &v.YearsOfExperience, &v.IsVerifiedEducator)
		p = v
	case RoleParent:
		v := &ParentProfile{}
		err = r.pool.QueryRow(ctx, `
			SELECT COALESCE(occupation, ''), number_of_children
			FROM parent_profiles WHERE user_id = $1`, id).
			Scan(&v.Occupation, &v.NumberOfChildren)
		p = v
	case RoleIndividual:
		v := &IndividualProfile{}
		err = r.pool.QueryRow(ctx, `
			SELECT learning_goals, interests, COALESCE(education_level, '')
			FROM individual_profiles WHERE user_id = $1`, id).
			Scan(&v.LearningGoals, &v.Interests, &v.EducationLevel)
		p = v
	case RoleAdmin:
		v := &AdminProfile{}
		err = r.pool.QueryRow(ctx, `
			SELECT COALESCE(department, ''), permissions
			FROM admin_profiles WHERE user_id = $1`, id).
			Scan(&v.Department, &v.Permissions)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying %s profile: %w", role, err)
	}
	return p, nil
}

func (r *postgresRepository) UpdateProfile(ctx context.Context, id uuid.UUID, p Profile) error {
	return saveProfile(ctx, r.pool, id, p, false)
}

func (r *postgresRepository) UpdateAccount(ctx context.Context, u *User) error {
	query := `
		UPDATE users
		SET first_name = $2, last_name = $3, bio = $4, avatar_url = $5,
		    two_factor_enabled = $6, two_factor_secret = $7, updated_at = $8
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		u.ID, u.FirstName, u.LastName, u.Bio, u.AvatarURL,
		u.TwoFactorEnabled, u.TwoFactorSecret, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *postgresRepository) SetVerified(ctx context.Context, id uuid.UUID, kind auth.VerificationKind) error {
	column := "is_email_verified"
	if kind == auth.VerifyPhone {
		column = "is_phone_verified"
	}
	query := `UPDATE users SET ` + column + ` = TRUE, is_verified = TRUE, updated_at = NOW() WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("marking user verified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *postgresRepository) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at); err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	return nil
}

func (r *postgresRepository) Contact(ctx context.Context, id uuid.UUID) (notify.Contact, error) {
	var c notify.Contact
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(email, ''), COALESCE(phone_number, '') FROM users WHERE id = $1`, id).
		Scan(&c.Email, &c.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notify.Contact{}, ErrUserNotFound
		}
		return notify.Contact{}, fmt.Errorf("querying user contact: %w", err)
	}
	return c, nil
}
