package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, name, password_hash, birth_date, weight, weight_metric,
	height, height_metric, gender, activity_level, what_do_you_want_to_achieve,
	created_at, updated_at`

// NormalizeEmail is the canonical form used for storage and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts u and returns the stored row. ErrEmailTaken is returned
// when the email is already registered.
func (s *Store) CreateUser(ctx context.Context, u NewUser) (*User, error) {
	now := s.now()
	p := u.Profile
	row := s.db.QueryRow(ctx, `
		INSERT INTO users (email, name, password_hash, birth_date, weight, weight_metric,
			height, height_metric, gender, activity_level, what_do_you_want_to_achieve,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING `+userColumns,
		NormalizeEmail(u.Email), strings.TrimSpace(u.Name), u.PasswordHash,
		dateArg(p.BirthDate), p.Weight, enumArg(p.WeightMetric),
		p.Height, enumArg(p.HeightMetric), enumArg(p.Gender), enumArg(p.ActivityLevel), enumArg(p.Goal),
		now,
	)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err, "") {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return user, nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading user %d: %w", id, err)
	}
	return user, nil
}

// GetUserByEmail loads a user by case-insensitive email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, NormalizeEmail(email))
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading user by email: %w", err)
	}
	return user, nil
}

// UpdateUser applies patch to user id and returns the new row.
func (s *Store) UpdateUser(ctx context.Context, id int64, patch UserPatch) (*User, error) {
	sets := []string{}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if patch.Email != nil {
		add("email", NormalizeEmail(*patch.Email))
	}
	if patch.Name != nil {
		add("name", strings.TrimSpace(*patch.Name))
	}
	if patch.PasswordHash != nil {
		add("password_hash", *patch.PasswordHash)
	}
	p := patch.Profile
	if p.BirthDate != nil {
		add("birth_date", dateArg(p.BirthDate))
	}
	if p.Weight != nil {
		add("weight", *p.Weight)
	}
	if p.WeightMetric != nil {
		add("weight_metric", enumArg(p.WeightMetric))
	}
	if p.Height != nil {
		add("height", *p.Height)
	}
	if p.HeightMetric != nil {
		add("height_metric", enumArg(p.HeightMetric))
	}
	if p.Gender != nil {
		add("gender", enumArg(p.Gender))
	}
	if p.ActivityLevel != nil {
		add("activity_level", enumArg(p.ActivityLevel))
	}
	if p.Goal != nil {
		add("what_do_you_want_to_achieve", enumArg(p.Goal))
	}
	add("updated_at", s.now())
	args = append(args, id)

	sql := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING `+userColumns,
		strings.Join(sets, ", "), len(args))

	user, err := scanUser(s.db.QueryRow(ctx, sql, args...))
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, ErrNotFound
		case isUniqueViolation(err, ""):
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("updating user %d: %w", id, err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*User, error) {
	var (
		u             User
		birthDate     *time.Time
		weightMetric  *string
		heightMetric  *string
		gender        *string
		activityLevel *string
		goal          *string
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &birthDate, &u.Weight, &weightMetric,
		&u.Height, &heightMetric, &gender, &activityLevel, &goal,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if birthDate != nil {
		d := NewDate(*birthDate)
		u.BirthDate = &d
	}
	u.WeightMetric = enumValue[WeightMetric](weightMetric)
	u.HeightMetric = enumValue[HeightMetric](heightMetric)
	u.Gender = enumValue[Gender](gender)
	u.ActivityLevel = enumValue[ActivityLevel](activityLevel)
	u.Goal = enumValue[Goal](goal)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func enumArg[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func enumValue[T ~string](s *string) *T {
	if s == nil {
		return nil
	}
	v := T(*s)
	return &v
}

func dateArg(d *Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}
