package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torvix/backend/internal/apperr"
)

func mealBody() map[string]any {
	return map[string]any{
		"time":        "2026-03-01T08:30:00+02:00",
		"dishName":    "Oatmeal",
		"totalWeight": 300,
		"totalMacros": map[string]any{"calories": 350, "protein": 12, "fat": 6, "carbs": 60, "fiber": 8},
		"ingredients": []any{map[string]any{"name": "Oats", "quantity": 1, "weightPerUnit": 80}},
	}
}

func TestStats_RequiresAuth(t *testing.T) {
	t.Parallel()
	w := serve(t, testServices(), http.MethodGet, "/stats", nil)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Not authenticated", decode(t, w)["detail"])
}

func TestCreateMeal(t *testing.T) {
	t.Parallel()
	fs := &fakeStats{}
	svc := testServices()
	svc.Stats = fs

	w := serve(t, svc, http.MethodPost, "/stats/meals", mealBody(), bearer()...)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "2026-03-01T06:30:00Z", body["time"])
	assert.Equal(t, "Oatmeal", body["dishName"])
	assert.EqualValues(t, 7, fs.userID)
	require.NotNil(t, fs.input)
	assert.Len(t, fs.input.Ingredients, 1)
}

func TestCreateMeal_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(map[string]any)
		wantLoc []any
		typ     string
	}{
		{"missing time", func(b map[string]any) { delete(b, "time") }, []any{"body", "time"}, "missing"},
		{"zero weight", func(b map[string]any) { b["totalWeight"] = 0 }, []any{"body", "totalWeight"}, "missing"},
		{"negative weight", func(b map[string]any) { b["totalWeight"] = -1 }, []any{"body", "totalWeight"}, "greater_than"},
		{"negative macro", func(b map[string]any) {
			b["totalMacros"].(map[string]any)["fat"] = -1
		}, []any{"body", "totalMacros", "fat"}, "greater_than_equal"},
		{"bad ingredient", func(b map[string]any) {
			b["ingredients"] = []any{map[string]any{"quantity": 0}}
		}, []any{"body", "ingredients", "0", "quantity"}, "greater_than"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			body := mealBody()
			tc.mutate(body)

			w := serve(t, testServices(), http.MethodPost, "/stats/meals", body, bearer()...)

			loc, typ := firstFieldError(t, w)
			assert.Equal(t, tc.wantLoc, loc)
			assert.Equal(t, tc.typ, typ)
		})
	}
}

func TestOverview(t *testing.T) {
	t.Parallel()
	w := serve(t, testServices(), http.MethodGet, "/stats", nil, bearer()...)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"days":[]}`, w.Body.String())
}

func TestDay(t *testing.T) {
	t.Parallel()
	fs := &fakeStats{}
	svc := testServices()
	svc.Stats = fs

	w := serve(t, svc, http.MethodGet, "/stats/days/2026-03-01/meals", nil, bearer()...)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"day":"2026-03-01","meals":[]}`, w.Body.String())
	assert.Equal(t, "2026-03-01", fs.day.String())
}

func TestDay_InvalidDate(t *testing.T) {
	t.Parallel()
	w := serve(t, testServices(), http.MethodGet, "/stats/days/yesterday/meals", nil, bearer()...)

	loc, _ := firstFieldError(t, w)
	assert.Equal(t, []any{"path", "day"}, loc)
}

func TestDeleteDay(t *testing.T) {
	t.Parallel()
	w := serve(t, testServices(), http.MethodDelete, "/stats/days/2026-03-01", nil, bearer()...)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	svc := testServices()
	svc.Stats = &fakeStats{err: apperr.NotFound("Statistics day not found")}
	w = serve(t, svc, http.MethodDelete, "/stats/days/2026-03-01", nil, bearer()...)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"Statistics day not found"}`, w.Body.String())
}

func TestDeleteMeal(t *testing.T) {
	t.Parallel()
	fs := &fakeStats{}
	svc := testServices()
	svc.Stats = fs

	w := serve(t, svc, http.MethodDelete, "/stats/days/2026-03-01/meals/42", nil, bearer()...)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.EqualValues(t, 42, fs.mealID)

	w = serve(t, svc, http.MethodDelete, "/stats/days/2026-03-01/meals/abc", nil, bearer()...)
	loc, typ := firstFieldError(t, w)
	assert.Equal(t, []any{"path", "mealId"}, loc)
	assert.Equal(t, "int_parsing", typ)
}

func TestDishNames(t *testing.T) {
	t.Parallel()
	w := serve(t, testServices(), http.MethodGet, "/stats/dish-names", nil, bearer()...)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"dishNames":[{"id":3,"dishName":"Soup"}]}`, w.Body.String())
}

func TestMealsByDish(t *testing.T) {
	t.Parallel()
	fs := &fakeStats{}
	svc := testServices()
	svc.Stats = fs

	w := serve(t, svc, http.MethodGet, "/stats/dishes?dishId=3", nil, bearer()...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"dishId":3,"dishName":"Soup","meals":[]}`, w.Body.String())

	w = serve(t, svc, http.MethodGet, "/stats/dishes?dishId=-1", nil, bearer()...)
	loc, typ := firstFieldError(t, w)
	assert.Equal(t, []any{"query", "dishId"}, loc)
	assert.Equal(t, "greater_than", typ)
}
