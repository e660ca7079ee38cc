package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"torvix/backend/internal/auth"
	"torvix/backend/internal/store"
)

// profileFields are the optional profile attributes shared by create and update.
type profileFields struct {
	BirthDate     *store.Date          `json:"birthDate"`
	Weight        *float64             `json:"weight" binding:"omitempty,gt=0"`
	WeightMetric  *store.WeightMetric  `json:"weightMetric" binding:"omitempty,oneof=kg lbs st"`
	Height        *float64             `json:"height" binding:"omitempty,gt=0"`
	HeightMetric  *store.HeightMetric  `json:"heightMetric" binding:"omitempty,oneof=cm ft_in"`
	Gender        *store.Gender        `json:"gender" binding:"omitempty,oneof=male female"`
	ActivityLevel *store.ActivityLevel `json:"activityLevel" binding:"omitempty,oneof=minimal light medium high very_high"`
	Goal          *store.Goal          `json:"whatDoYouWantToAchieve" binding:"omitempty,oneof=lose_fat maintain muscle_gain"`
}

func (p profileFields) toProfile() store.UserProfile {
	return store.UserProfile{
		BirthDate:     p.BirthDate,
		Weight:        p.Weight,
		WeightMetric:  p.WeightMetric,
		Height:        p.Height,
		HeightMetric:  p.HeightMetric,
		Gender:        p.Gender,
		ActivityLevel: p.ActivityLevel,
		Goal:          p.Goal,
	}
}

// UserCreate is the body of POST /auth/register.
type UserCreate struct {
	Email    string `json:"email" binding:"required,min=5,max=255,emailaddr"`
	Name     string `json:"name" binding:"required,min=1,max=255"`
	Password string `json:"password" binding:"required,min=8,max=255"`
	profileFields
}

// UserUpdate is the body of PATCH /auth/me; absent fields are unchanged.
type UserUpdate struct {
	Email    *string `json:"email" binding:"omitempty,min=5,max=255,emailaddr"`
	Name     *string `json:"name" binding:"omitempty,min=1,max=255"`
	Password *string `json:"password" binding:"omitempty,min=8,max=255"`
	profileFields
}

// UserLogin is the body of POST /auth/login.
type UserLogin struct {
	Email    string `json:"email" binding:"required,min=5,max=255,emailaddr"`
	Password string `json:"password" binding:"required,min=8,max=255"`
}

// RefreshRequest is the body of POST /auth/refresh and /auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required,min=20,max=4096"`
}

type emailQuery struct {
	Email string `form:"email" binding:"required,min=5,max=255,emailaddr"`
}

// UserRead is the public form of a user.
type UserRead struct {
	ID            int64                `json:"id"`
	Email         string               `json:"email"`
	Name          string               `json:"name"`
	BirthDate     *store.Date          `json:"birthDate"`
	Weight        *float64             `json:"weight"`
	WeightMetric  *store.WeightMetric  `json:"weightMetric"`
	Height        *float64             `json:"height"`
	HeightMetric  *store.HeightMetric  `json:"heightMetric"`
	Gender        *store.Gender        `json:"gender"`
	ActivityLevel *store.ActivityLevel `json:"activityLevel"`
	Goal          *store.Goal          `json:"whatDoYouWantToAchieve"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

func newUserRead(u *store.User) UserRead {
	return UserRead{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		BirthDate:     u.BirthDate,
		Weight:        u.Weight,
		WeightMetric:  u.WeightMetric,
		Height:        u.Height,
		HeightMetric:  u.HeightMetric,
		Gender:        u.Gender,
		ActivityLevel: u.ActivityLevel,
		Goal:          u.Goal,
		CreatedAt:     u.CreatedAt.UTC(),
		UpdatedAt:     u.UpdatedAt.UTC(),
	}
}

// AuthHandler serves /auth.
type AuthHandler struct {
	auth authService
}

// EmailExists handles GET /auth/email_exists.
func (h *AuthHandler) EmailExists(c *gin.Context) {
	var q emailQuery
	if !bindQuery(c, &q) {
		return
	}
	email, exists, err := h.auth.EmailExists(c.Request.Context(), q.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": email, "exists": exists})
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var in UserCreate
	if !bindJSON(c, &in) {
		return
	}
	user, err := h.auth.Register(c.Request.Context(), auth.Registration{
		Email:    in.Email,
		Name:     in.Name,
		Password: in.Password,
		Profile:  in.toProfile(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newUserRead(user))
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var in UserLogin
	if !bindJSON(c, &in) {
		return
	}
	pair, err := h.auth.Login(c.Request.Context(), in.Email, in.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Refresh handles POST /auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var in RefreshRequest
	if !bindJSON(c, &in) {
		return
	}
	pair, err := h.auth.Refresh(c.Request.Context(), in.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	var in RefreshRequest
	if !bindJSON(c, &in) {
		return
	}
	if err := h.auth.Logout(c.Request.Context(), in.RefreshToken); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me handles GET /auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, newUserRead(currentUser(c)))
}

// UpdateMe handles PATCH /auth/me.
func (h *AuthHandler) UpdateMe(c *gin.Context) {
	var in UserUpdate
	if !bindJSON(c, &in) {
		return
	}
	user, err := h.auth.UpdateProfile(c.Request.Context(), currentUser(c).ID, auth.Update{
		Email:    in.Email,
		Name:     in.Name,
		Password: in.Password,
		Profile:  in.toProfile(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newUserRead(user))
}
