package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrMealNotFound is returned when a meal does not belong to the addressed day.
var ErrMealNotFound = errors.New("meal not found in day")

const mealColumns = `id, statistics_day_id, user_id, time, dish_name, total_weight,
	total_macros, ingredients, created_at, updated_at`

// NewMeal is the input for CreateMeal. Time must already be in UTC.
type NewMeal struct {
	Time        time.Time
	DishName    string
	TotalWeight float64
	TotalMacros json.RawMessage
	Ingredients json.RawMessage
}

// DishName is one row of the dish-name listing.
type DishName struct {
	ID       int64
	DishName string
}

// CreateMeal stores m under the statistics day of its UTC date, creating the
// day on first use.
func (s *Store) CreateMeal(ctx context.Context, userID int64, m NewMeal) (*MealEntry, error) {
	now := s.now()
	mealTime := m.Time.UTC()
	day := NewDate(mealTime)

	var meal *MealEntry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var dayID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO statistics_days (user_id, day, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (user_id, day) DO UPDATE SET updated_at = EXCLUDED.updated_at
			RETURNING id`,
			userID, day.Time, now).Scan(&dayID)
		if err != nil {
			return fmt.Errorf("upserting statistics day %s: %w", day, err)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO meal_entries (statistics_day_id, user_id, time, dish_name, total_weight,
				total_macros, ingredients, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			RETURNING `+mealColumns,
			dayID, userID, mealTime, m.DishName, m.TotalWeight,
			jsonArg(m.TotalMacros, "{}"), jsonArg(m.Ingredients, "[]"), now)
		meal, err = scanMeal(row)
		if err != nil {
			return fmt.Errorf("inserting meal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return meal, nil
}

// ListDays returns every statistics day of userID, newest first.
func (s *Store) ListDays(ctx context.Context, userID int64) ([]StatisticsDay, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, day, created_at, updated_at
		FROM statistics_days WHERE user_id = $1
		ORDER BY day DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing statistics days: %w", err)
	}
	defer rows.Close()

	var days []StatisticsDay
	for rows.Next() {
		d, err := scanDay(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning statistics day: %w", err)
		}
		days = append(days, *d)
	}
	return days, rows.Err()
}

// ListMeals returns every meal of userID ordered by time then id, newest first.
func (s *Store) ListMeals(ctx context.Context, userID int64) ([]MealEntry, error) {
	return s.queryMeals(ctx, `SELECT `+mealColumns+` FROM meal_entries
		WHERE user_id = $1
		ORDER BY time DESC, id DESC`, userID)
}

// GetDay loads the statistics day of userID for day.
func (s *Store) GetDay(ctx context.Context, userID int64, day Date) (*StatisticsDay, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, user_id, day, created_at, updated_at
		FROM statistics_days WHERE user_id = $1 AND day = $2`, userID, day.Time)
	d, err := scanDay(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading statistics day %s: %w", day, err)
	}
	return d, nil
}

// ListDayMeals returns the meals of one statistics day, newest first.
func (s *Store) ListDayMeals(ctx context.Context, userID, dayID int64) ([]MealEntry, error) {
	return s.queryMeals(ctx, `SELECT `+mealColumns+` FROM meal_entries
		WHERE user_id = $1 AND statistics_day_id = $2
		ORDER BY time DESC, id DESC`, userID, dayID)
}

// DeleteDay removes a statistics day and its meals. It returns the number of
// meals removed.
func (s *Store) DeleteDay(ctx context.Context, userID int64, day Date) (int64, error) {
	var removed int64
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var dayID int64
		err := tx.QueryRow(ctx,
			`SELECT id FROM statistics_days WHERE user_id = $1 AND day = $2`,
			userID, day.Time).Scan(&dayID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("loading statistics day %s: %w", day, err)
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM meal_entries WHERE statistics_day_id = $1 AND user_id = $2`,
			dayID, userID)
		if err != nil {
			return fmt.Errorf("deleting meals of %s: %w", day, err)
		}
		removed = tag.RowsAffected()

		if _, err := tx.Exec(ctx, `DELETE FROM statistics_days WHERE id = $1`, dayID); err != nil {
			return fmt.Errorf("deleting statistics day %s: %w", day, err)
		}
		return nil
	})
	return removed, err
}

// DeleteMeal removes one meal from a day and drops the day once it has no
// meals left. dayRemoved reports whether that happened.
func (s *Store) DeleteMeal(ctx context.Context, userID int64, day Date, mealID int64) (dayRemoved bool, err error) {
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		var dayID int64
		err := tx.QueryRow(ctx,
			`SELECT id FROM statistics_days WHERE user_id = $1 AND day = $2`,
			userID, day.Time).Scan(&dayID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("loading statistics day %s: %w", day, err)
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM meal_entries WHERE id = $1 AND user_id = $2 AND statistics_day_id = $3`,
			mealID, userID, dayID)
		if err != nil {
			return fmt.Errorf("deleting meal %d: %w", mealID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrMealNotFound
		}

		tag, err = tx.Exec(ctx, `
			DELETE FROM statistics_days
			WHERE id = $1 AND NOT EXISTS (
				SELECT 1 FROM meal_entries WHERE statistics_day_id = $1
			)`, dayID)
		if err != nil {
			return fmt.Errorf("pruning statistics day %s: %w", day, err)
		}
		dayRemoved = tag.RowsAffected() > 0
		return nil
	})
	return dayRemoved, err
}

// ListDishNames returns one entry per meal of userID, ordered by
// case-insensitive dish name and then newest first.
func (s *Store) ListDishNames(ctx context.Context, userID int64) ([]DishName, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, dish_name FROM meal_entries
		WHERE user_id = $1
		ORDER BY lower(dish_name), time DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing dish names: %w", err)
	}
	defer rows.Close()

	names := []DishName{}
	for rows.Next() {
		var n DishName
		if err := rows.Scan(&n.ID, &n.DishName); err != nil {
			return nil, fmt.Errorf("scanning dish name: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// GetMeal loads a meal of userID by id.
func (s *Store) GetMeal(ctx context.Context, userID, mealID int64) (*MealEntry, error) {
	row := s.db.QueryRow(ctx, `SELECT `+mealColumns+` FROM meal_entries
		WHERE id = $1 AND user_id = $2`, mealID, userID)
	meal, err := scanMeal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading meal %d: %w", mealID, err)
	}
	return meal, nil
}

func (s *Store) queryMeals(ctx context.Context, sql string, args ...any) ([]MealEntry, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing meals: %w", err)
	}
	defer rows.Close()

	meals := []MealEntry{}
	for rows.Next() {
		m, err := scanMeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning meal: %w", err)
		}
		meals = append(meals, *m)
	}
	return meals, rows.Err()
}

func scanDay(row pgx.Row) (*StatisticsDay, error) {
	var (
		d   StatisticsDay
		day time.Time
	)
	if err := row.Scan(&d.ID, &d.UserID, &day, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Day = NewDate(day)
	return &d, nil
}

func scanMeal(row pgx.Row) (*MealEntry, error) {
	var (
		m           MealEntry
		macros      []byte
		ingredients []byte
	)
	err := row.Scan(&m.ID, &m.StatisticsDayID, &m.UserID, &m.Time, &m.DishName, &m.TotalWeight,
		&macros, &ingredients, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Time = m.Time.UTC()
	m.TotalMacros = json.RawMessage(macros)
	m.Ingredients = json.RawMessage(ingredients)
	return &m, nil
}

func jsonArg(raw json.RawMessage, empty string) string {
	if len(raw) == 0 {
		return empty
	}
	return string(raw)
}
