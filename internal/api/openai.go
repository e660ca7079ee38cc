package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"torvix/backend/internal/apperr"
	"torvix/backend/internal/clients"
)

const defaultChatOutputTokens = 300

// ChatRequest is the body of POST /api/openai/chat.
type ChatRequest struct {
	Prompt          string   `json:"prompt" binding:"required,min=1,max=10000"`
	SystemPrompt    *string  `json:"systemPrompt" binding:"omitempty,max=5000"`
	Model           *string  `json:"model" binding:"omitempty,min=1"`
	Temperature     *float64 `json:"temperature" binding:"omitempty,min=0,max=2"`
	MaxOutputTokens *int     `json:"maxOutputTokens" binding:"omitempty,min=1,max=4096"`
}

type foodPhotoForm struct {
	Language string `form:"language" binding:"required,min=2,max=8"`
	Model    string `form:"model"`
}

// OpenAIHandler serves /api/openai.
type OpenAIHandler struct {
	openai assistant
}

// Chat handles POST /api/openai/chat.
func (h *OpenAIHandler) Chat(c *gin.Context) {
	var in ChatRequest
	if !bindJSON(c, &in) {
		return
	}

	params := clients.ChatParams{
		Prompt:          in.Prompt,
		SystemPrompt:    in.SystemPrompt,
		Temperature:     in.Temperature,
		MaxOutputTokens: in.MaxOutputTokens,
	}
	if in.Model != nil {
		params.Model = *in.Model
	}
	if params.MaxOutputTokens == nil {
		n := defaultChatOutputTokens
		params.MaxOutputTokens = &n
	}

	out, err := h.openai.Chat(c.Request.Context(), params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// FoodPhoto handles POST /api/openai/food-photo. The form carries the image
// as "file" plus the answer language.
func (h *OpenAIHandler) FoodPhoto(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, clients.MaxImageBytes+1<<20)

	var form foodPhotoForm
	if err := c.ShouldBind(&form); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, imageTooLarge())
			return
		}
		respondValidation(c, "body", err)
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": []FieldError{{
			Loc: []string{"body", "file"}, Msg: "Field required", Type: "missing",
		}}})
		return
	}
	if header.Size > clients.MaxImageBytes {
		respondError(c, imageTooLarge())
		return
	}

	f, err := header.Open()
	if err != nil {
		respondError(c, apperr.Wrap(http.StatusBadRequest, "Cannot read uploaded file", err))
		return
	}
	defer f.Close()
	image, err := io.ReadAll(f)
	if err != nil {
		respondError(c, apperr.Wrap(http.StatusBadRequest, "Cannot read uploaded file", err))
		return
	}
	if len(image) == 0 {
		respondError(c, apperr.New(http.StatusBadRequest, "Uploaded file is empty"))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		respondError(c, apperr.New(http.StatusBadRequest, "Uploaded file must be an image"))
		return
	}

	out, err := h.openai.AnalyzeFoodPhoto(c.Request.Context(), image, contentType, form.Language, form.Model)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func imageTooLarge() *apperr.Error {
	return apperr.New(http.StatusRequestEntityTooLarge, fmt.Sprintf("Image is too large (max %d bytes)", clients.MaxImageBytes))
}
