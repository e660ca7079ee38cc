package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"torvix/backend/internal/stats"
	"torvix/backend/internal/store"
)

type dishQuery struct {
	DishID int64 `form:"dishId" binding:"required,gt=0"`
}

// StatsHandler serves /stats for the authenticated user.
type StatsHandler struct {
	stats statsService
}

// CreateMeal handles POST /stats/meals.
func (h *StatsHandler) CreateMeal(c *gin.Context) {
	var in stats.MealInput
	if !bindJSON(c, &in) {
		return
	}
	meal, err := h.stats.CreateMeal(c.Request.Context(), currentUser(c).ID, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meal)
}

// Overview handles GET /stats.
func (h *StatsHandler) Overview(c *gin.Context) {
	out, err := h.stats.Overview(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Day handles GET /stats/days/:day/meals.
func (h *StatsHandler) Day(c *gin.Context) {
	day, ok := dayParam(c)
	if !ok {
		return
	}
	out, err := h.stats.Day(c.Request.Context(), currentUser(c).ID, day)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// DeleteDay handles DELETE /stats/days/:day.
func (h *StatsHandler) DeleteDay(c *gin.Context) {
	day, ok := dayParam(c)
	if !ok {
		return
	}
	if err := h.stats.DeleteDay(c.Request.Context(), currentUser(c).ID, day); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteMeal handles DELETE /stats/days/:day/meals/:mealId.
func (h *StatsHandler) DeleteMeal(c *gin.Context) {
	day, ok := dayParam(c)
	if !ok {
		return
	}
	mealID, err := strconv.ParseInt(c.Param("mealId"), 10, 64)
	if err != nil {
		respondParam(c, "mealId", "Input should be a valid integer, unable to parse string as an integer", "int_parsing")
		return
	}
	if err := h.stats.DeleteMeal(c.Request.Context(), currentUser(c).ID, day, mealID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DishNames handles GET /stats/dish-names.
func (h *StatsHandler) DishNames(c *gin.Context) {
	out, err := h.stats.DishNames(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// MealsByDish handles GET /stats/dishes.
func (h *StatsHandler) MealsByDish(c *gin.Context) {
	var q dishQuery
	if !bindQuery(c, &q) {
		return
	}
	out, err := h.stats.MealsByDish(c.Request.Context(), currentUser(c).ID, q.DishID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func dayParam(c *gin.Context) (store.Date, bool) {
	day, err := store.ParseDate(c.Param("day"))
	if err != nil {
		respondParam(c, "day", "Input should be a valid date in the format YYYY-MM-DD", "date_from_datetime_parsing")
		return store.Date{}, false
	}
	return day, true
}

func respondParam(c *gin.Context, name, msg, typ string) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
		"detail": []FieldError{{Loc: []string{"path", name}, Msg: msg, Type: typ}},
	})
}
