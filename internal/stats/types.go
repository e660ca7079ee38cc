package stats

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"torvix/backend/internal/store"
)

// Timestamp accepts RFC 3339 times as well as naive ISO 8601 times, which are
// taken to be UTC.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	s = strings.TrimSpace(s)
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed.UTC()
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("invalid datetime %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// IngredientMacros are per-100 g nutrition values of an ingredient.
type IngredientMacros struct {
	Calories *float64 `json:"calories,omitempty" binding:"omitempty,min=0"`
	Protein  *float64 `json:"protein,omitempty" binding:"omitempty,min=0"`
	Fat      *float64 `json:"fat,omitempty" binding:"omitempty,min=0"`
	Carbs    *float64 `json:"carbs,omitempty" binding:"omitempty,min=0"`
	Fiber    *float64 `json:"fiber,omitempty" binding:"omitempty,min=0"`
}

// Ingredient is one component of a meal.
type Ingredient struct {
	Name          *string           `json:"name,omitempty" binding:"omitempty,min=1,max=200"`
	WeightPerUnit *float64          `json:"weightPerUnit,omitempty" binding:"omitempty,gt=0"`
	Quantity      *float64          `json:"quantity,omitempty" binding:"omitempty,gt=0"`
	MacrosPer100g *IngredientMacros `json:"macrosPer100g,omitempty"`
}

// TotalMacros are the nutrition totals of a meal.
type TotalMacros struct {
	Calories     *float64 `json:"calories" binding:"required,min=0"`
	Protein      *float64 `json:"protein" binding:"required,min=0"`
	Fat          *float64 `json:"fat" binding:"required,min=0"`
	FatSaturated *float64 `json:"fatSaturated,omitempty" binding:"omitempty,min=0"`
	Carbs        *float64 `json:"carbs" binding:"required,min=0"`
	Fiber        *float64 `json:"fiber" binding:"required,min=0"`
	Sugar        *float64 `json:"sugar,omitempty" binding:"omitempty,min=0"`
}

// MealInput is the body of POST /stats/meals.
type MealInput struct {
	Time        *Timestamp   `json:"time" binding:"required"`
	DishName    string       `json:"dishName" binding:"required,min=1,max=300"`
	TotalWeight float64      `json:"totalWeight" binding:"required,gt=0"`
	TotalMacros *TotalMacros `json:"totalMacros" binding:"required"`
	Ingredients []Ingredient `json:"ingredients" binding:"max=100,dive"`
}

// Meal is the wire form of a stored meal.
type Meal struct {
	ID          int64           `json:"id"`
	Time        Timestamp       `json:"time"`
	DishName    string          `json:"dishName"`
	TotalWeight float64         `json:"totalWeight"`
	TotalMacros json.RawMessage `json:"totalMacros"`
	Ingredients json.RawMessage `json:"ingredients"`
}

// Day groups the meals of one calendar day.
type Day struct {
	Day   store.Date `json:"day"`
	Meals []Meal     `json:"meals"`
}

// Statistics is the response of GET /stats.
type Statistics struct {
	Days []Day `json:"days"`
}

// DishName is one entry of GET /stats/dish-names.
type DishName struct {
	ID       int64  `json:"id"`
	DishName string `json:"dishName"`
}

// DishNames is the response of GET /stats/dish-names.
type DishNames struct {
	DishNames []DishName `json:"dishNames"`
}

// MealsByDish is the response of GET /stats/dishes.
type MealsByDish struct {
	DishID   int64  `json:"dishId"`
	DishName string `json:"dishName"`
	Meals    []Meal `json:"meals"`
}

func mealFromEntry(m store.MealEntry) Meal {
	ingredients := m.Ingredients
	if len(ingredients) == 0 {
		ingredients = json.RawMessage(`[]`)
	}
	return Meal{
		ID:          m.ID,
		Time:        Timestamp{m.Time},
		DishName:    m.DishName,
		TotalWeight: m.TotalWeight,
		TotalMacros: m.TotalMacros,
		Ingredients: ingredients,
	}
}
