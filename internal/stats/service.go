// Package stats keeps per-user meal statistics grouped by UTC calendar day.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"torvix/backend/internal/apperr"
	"torvix/backend/internal/store"
)

// Event subjects published by the service.
const (
	SubjectMealCreated = "torvix.meal.created"
	SubjectMealDeleted = "torvix.meal.deleted"
	SubjectDayDeleted  = "torvix.day.deleted"
)

// Store is satisfied by *store.Store.
type Store interface {
	CreateMeal(ctx context.Context, userID int64, m store.NewMeal) (*store.MealEntry, error)
	ListDays(ctx context.Context, userID int64) ([]store.StatisticsDay, error)
	ListMeals(ctx context.Context, userID int64) ([]store.MealEntry, error)
	GetDay(ctx context.Context, userID int64, day store.Date) (*store.StatisticsDay, error)
	ListDayMeals(ctx context.Context, userID, dayID int64) ([]store.MealEntry, error)
	DeleteDay(ctx context.Context, userID int64, day store.Date) (int64, error)
	DeleteMeal(ctx context.Context, userID int64, day store.Date, mealID int64) (bool, error)
	ListDishNames(ctx context.Context, userID int64) ([]store.DishName, error)
	GetMeal(ctx context.Context, userID, mealID int64) (*store.MealEntry, error)
}

// Publisher is satisfied by *clients.NATSClient.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Service implements the /stats operations.
type Service struct {
	store  Store
	events Publisher
}

// NewService wires a Service. events may be nil.
func NewService(st Store, events Publisher) *Service {
	return &Service{store: st, events: events}
}

// CreateMeal records a meal under the UTC day of its time.
func (s *Service) CreateMeal(ctx context.Context, userID int64, in MealInput) (*Meal, error) {
	dishName := strings.TrimSpace(in.DishName)
	if dishName == "" {
		return nil, apperr.Unprocessable("dishName must not be empty")
	}
	if in.Time == nil || in.TotalMacros == nil {
		return nil, apperr.Unprocessable("time and totalMacros are required")
	}

	macros, err := json.Marshal(in.TotalMacros)
	if err != nil {
		return nil, fmt.Errorf("encoding macros: %w", err)
	}
	ingredients := in.Ingredients
	if ingredients == nil {
		ingredients = []Ingredient{}
	}
	items, err := json.Marshal(ingredients)
	if err != nil {
		return nil, fmt.Errorf("encoding ingredients: %w", err)
	}

	entry, err := s.store.CreateMeal(ctx, userID, store.NewMeal{
		Time:        in.Time.UTC(),
		DishName:    dishName,
		TotalWeight: in.TotalWeight,
		TotalMacros: macros,
		Ingredients: items,
	})
	if err != nil {
		return nil, err
	}

	meal := mealFromEntry(*entry)
	s.publish(ctx, SubjectMealCreated, map[string]any{
		"userId": userID,
		"mealId": meal.ID,
		"day":    store.NewDate(entry.Time).String(),
	})
	return &meal, nil
}

// Overview returns every day of the user, newest first, with its meals.
func (s *Service) Overview(ctx context.Context, userID int64) (*Statistics, error) {
	days, err := s.store.ListDays(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &Statistics{Days: []Day{}}
	if len(days) == 0 {
		return out, nil
	}

	meals, err := s.store.ListMeals(ctx, userID)
	if err != nil {
		return nil, err
	}
	byDay := make(map[int64][]Meal, len(days))
	for _, m := range meals {
		byDay[m.StatisticsDayID] = append(byDay[m.StatisticsDayID], mealFromEntry(m))
	}

	for _, d := range days {
		dm := byDay[d.ID]
		if dm == nil {
			dm = []Meal{}
		}
		out.Days = append(out.Days, Day{Day: d.Day, Meals: dm})
	}
	return out, nil
}

// Day returns the meals of one day. A day without records is returned empty.
func (s *Service) Day(ctx context.Context, userID int64, day store.Date) (*Day, error) {
	d, err := s.store.GetDay(ctx, userID, day)
	if errors.Is(err, store.ErrNotFound) {
		return &Day{Day: day, Meals: []Meal{}}, nil
	}
	if err != nil {
		return nil, err
	}

	entries, err := s.store.ListDayMeals(ctx, userID, d.ID)
	if err != nil {
		return nil, err
	}
	meals := make([]Meal, 0, len(entries))
	for _, m := range entries {
		meals = append(meals, mealFromEntry(m))
	}
	return &Day{Day: d.Day, Meals: meals}, nil
}

// DeleteDay removes a day and all of its meals.
func (s *Service) DeleteDay(ctx context.Context, userID int64, day store.Date) error {
	removed, err := s.store.DeleteDay(ctx, userID, day)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("Statistics day not found")
	}
	if err != nil {
		return err
	}
	s.publish(ctx, SubjectDayDeleted, map[string]any{
		"userId":       userID,
		"day":          day.String(),
		"mealsRemoved": removed,
	})
	return nil
}

// DeleteMeal removes one meal of a day.
func (s *Service) DeleteMeal(ctx context.Context, userID int64, day store.Date, mealID int64) error {
	dayRemoved, err := s.store.DeleteMeal(ctx, userID, day, mealID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("Statistics day not found")
	case errors.Is(err, store.ErrMealNotFound):
		return apperr.NotFound("Meal not found in this day")
	case err != nil:
		return err
	}
	s.publish(ctx, SubjectMealDeleted, map[string]any{
		"userId":     userID,
		"mealId":     mealID,
		"day":        day.String(),
		"dayRemoved": dayRemoved,
	})
	return nil
}

// DishNames lists the dish name of every meal of the user.
func (s *Service) DishNames(ctx context.Context, userID int64) (*DishNames, error) {
	rows, err := s.store.ListDishNames(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &DishNames{DishNames: make([]DishName, 0, len(rows))}
	for _, r := range rows {
		out.DishNames = append(out.DishNames, DishName{ID: r.ID, DishName: r.DishName})
	}
	return out, nil
}

// MealsByDish returns the meal a dish-name entry points at.
func (s *Service) MealsByDish(ctx context.Context, userID, dishID int64) (*MealsByDish, error) {
	entry, err := s.store.GetMeal(ctx, userID, dishID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Dish not found")
	}
	if err != nil {
		return nil, err
	}
	return &MealsByDish{
		DishID:   dishID,
		DishName: entry.DishName,
		Meals:    []Meal{mealFromEntry(*entry)},
	}, nil
}

func (s *Service) publish(ctx context.Context, subject string, payload any) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, subject, payload); err != nil {
		slog.WarnContext(ctx, "event publish failed", "subject", subject, "error", err)
	}
}
