package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type WeightMetric string

const (
	WeightKg  WeightMetric = "kg"
	WeightLbs WeightMetric = "lbs"
	WeightSt  WeightMetric = "st"
)

type HeightMetric string

const (
	HeightCm   HeightMetric = "cm"
	HeightFtIn HeightMetric = "ft_in"
)

type Goal string

const (
	GoalLoseFat    Goal = "lose_fat"
	GoalMaintain   Goal = "maintain"
	GoalMuscleGain Goal = "muscle_gain"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type ActivityLevel string

const (
	ActivityMinimal  ActivityLevel = "minimal"
	ActivityLight    ActivityLevel = "light"
	ActivityMedium   ActivityLevel = "medium"
	ActivityHigh     ActivityLevel = "high"
	ActivityVeryHigh ActivityLevel = "very_high"
)

// User is a row of the users table.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string

	BirthDate     *Date
	Weight        *float64
	WeightMetric  *WeightMetric
	Height        *float64
	HeightMetric  *HeightMetric
	Gender        *Gender
	ActivityLevel *ActivityLevel
	Goal          *Goal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserProfile holds the optional profile columns shared by create and update.
type UserProfile struct {
	BirthDate     *Date
	Weight        *float64
	WeightMetric  *WeightMetric
	Height        *float64
	HeightMetric  *HeightMetric
	Gender        *Gender
	ActivityLevel *ActivityLevel
	Goal          *Goal
}

// NewUser is the input for CreateUser.
type NewUser struct {
	Email        string
	Name         string
	PasswordHash string
	Profile      UserProfile
}

// UserPatch lists the columns UpdateUser may change; nil fields are left alone.
type UserPatch struct {
	Email        *string
	Name         *string
	PasswordHash *string
	Profile      UserProfile
}

// AuthSession is a row of the auth_sessions table.
type AuthSession struct {
	ID               int64
	UserID           int64
	RefreshTokenHash string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Active reports whether the session can still authenticate requests at now.
func (s *AuthSession) Active(now time.Time) bool {
	if s.RevokedAt != nil {
		return false
	}
	return s.ExpiresAt.After(now)
}

// StatisticsDay is a row of the statistics_days table.
type StatisticsDay struct {
	ID        int64
	UserID    int64
	Day       Date
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MealEntry is a row of the meal_entries table. Macros and ingredients are
// stored as JSON documents.
type MealEntry struct {
	ID              int64
	StatisticsDayID int64
	UserID          int64
	Time            time.Time
	DishName        string
	TotalWeight     float64
	TotalMacros     json.RawMessage
	Ingredients     json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Date is a calendar day without a time zone, encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// NewDate truncates t to its calendar day in t's location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
