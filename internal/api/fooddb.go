package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"

	"torvix/backend/internal/apperr"
	"torvix/backend/internal/clients"
)

const accountUserHeader = "Edamam-Account-User"

var (
	nutritionTypes = []string{"cooking", "logging"}
	foodCategories = []string{"generic-foods", "generic-meals", "packaged-foods", "fast-foods"}
	healthLabels   = []string{
		"alcohol-free", "celery-free", "crustacean-free", "dairy-free", "egg-free",
		"fish-free", "fodmap-free", "gluten-free", "immuno-supportive", "keto-friendly",
		"kidney-friendly", "kosher", "low-fat-abs", "low-potassium", "low-sugar",
		"lupine-free", "mustard-free", "no-oil-added", "paleo", "peanut-free",
		"pescatarian", "pork-free", "red-meat-free", "sesame-free", "shellfish-free",
		"soy-free", "sugar-conscious", "tree-nut-free", "vegan", "vegetarian",
		"wheat-free",
	}
	// nutrientCodes are the nutrients[CODE] range filters forwarded to the parser.
	nutrientCodes = []string{
		"CA", "CHOCDF", "CHOCDF.net", "CHOLE", "ENERC_KCAL", "FAMS", "FAPU", "FASAT",
		"FAT", "FATRN", "FE", "FIBTG", "FOLAC", "FOLDFE", "FOLFD", "K", "MG", "NA",
		"NIA", "P", "PROCNT", "RIBF", "SUGAR", "SUGAR.added", "Sugar.alcohol", "THIA",
		"TOCPHA", "VITA_RAE", "VITB12", "VITB6A", "VITC", "VITD", "VITK1", "WATER", "ZN",
	}
)

// NutrientsIngredient is one entry of a nutrients request.
type NutrientsIngredient struct {
	Quantity   float64  `json:"quantity" binding:"required,gt=0"`
	MeasureURI string   `json:"measureURI" binding:"required,min=1"`
	FoodID     string   `json:"foodId" binding:"required,min=1"`
	Qualifiers []string `json:"qualifiers,omitempty"`
}

// NutrientsRequest is the body of POST /v2/nutrients.
type NutrientsRequest struct {
	Ingredients []NutrientsIngredient `json:"ingredients" binding:"required,min=1,dive"`
}

type imageBody struct {
	Image    *string `json:"image"`
	ImageURL *string `json:"image_url"`
}

type autoCompleteQuery struct {
	Q     string `form:"q" binding:"required,min=1"`
	Limit *int   `form:"limit" binding:"omitempty,min=1"`
}

// FoodDatabaseHandler proxies /api/food-database to Edamam.
type FoodDatabaseHandler struct {
	edamam foodDatabase
}

// Parser handles GET /api/food-database/v2/parser.
func (h *FoodDatabaseHandler) Parser(c *gin.Context) {
	query, errs, err := parserQuery(c.Request.URL.Query())
	if len(errs) > 0 {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": errs})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	resp, err := h.edamam.Parser(c.Request.Context(), query, c.GetHeader(accountUserHeader))
	if err != nil {
		respondError(c, err)
		return
	}
	rawJSON(c, resp.Status, resp.Body)
}

// parserQuery checks the parser filters against Edamam's allow-lists and
// returns the query to forward. Unknown parameters are dropped.
func parserQuery(in url.Values) (url.Values, []FieldError, error) {
	var errs []FieldError

	nutritionType := in.Get("nutrition-type")
	if nutritionType == "" {
		nutritionType = "cooking"
	}
	if !slices.Contains(nutritionTypes, nutritionType) {
		errs = append(errs, FieldError{
			Loc:  []string{"query", "nutrition-type"},
			Msg:  "Input should be " + quoteJoin(nutritionTypes),
			Type: "literal_error",
		})
	}
	for _, list := range []struct {
		name    string
		allowed []string
	}{{"health", healthLabels}, {"category", foodCategories}} {
		for i, v := range in[list.name] {
			if !slices.Contains(list.allowed, v) {
				errs = append(errs, FieldError{
					Loc:  []string{"query", list.name, strconv.Itoa(i)},
					Msg:  "Input should be " + quoteJoin(list.allowed),
					Type: "literal_error",
				})
			}
		}
	}
	if len(errs) > 0 {
		return nil, errs, nil
	}

	ingr, brand, upc := in.Get("ingr"), in.Get("brand"), in.Get("upc")
	switch {
	case ingr == "" && brand == "" && upc == "":
		return nil, nil, apperr.Unprocessable("One of ingr, brand, or upc is required")
	case upc != "" && (ingr != "" || brand != ""):
		return nil, nil, apperr.Unprocessable("upc cannot be combined with ingr or brand")
	}

	out := url.Values{}
	for _, key := range []string{"ingr", "brand", "upc"} {
		if v := in.Get(key); v != "" {
			out.Set(key, v)
		}
	}
	out.Set("nutrition-type", nutritionType)
	if v, ok := in["health"]; ok {
		out["health"] = v
	}
	if v := in.Get("calories"); v != "" {
		out.Set("calories", v)
	}
	if v, ok := in["category"]; ok {
		out["category"] = v
	}
	for _, code := range nutrientCodes {
		key := fmt.Sprintf("nutrients[%s]", code)
		if v := in.Get(key); v != "" {
			out.Set(key, v)
		}
	}
	return out, nil, nil
}

// Nutrients handles POST /api/food-database/v2/nutrients.
func (h *FoodDatabaseHandler) Nutrients(c *gin.Context) {
	var in NutrientsRequest
	if !bindStrictJSON(c, &in) {
		return
	}
	body, err := json.Marshal(in)
	if err != nil {
		respondError(c, err)
		return
	}
	resp, err := h.edamam.Nutrients(c.Request.Context(), body, c.GetHeader(accountUserHeader))
	if err != nil {
		respondError(c, err)
		return
	}
	rawJSON(c, resp.Status, resp.Body)
}

// NutrientsFromImage handles POST /api/food-database/nutrients-from-image
// and its aliases.
func (h *FoodDatabaseHandler) NutrientsFromImage(c *gin.Context) {
	if beta := c.Query("beta"); beta != "" && beta != "true" {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": []FieldError{{
			Loc: []string{"query", "beta"}, Msg: "Input should be True", Type: "literal_error",
		}}})
		return
	}

	var in imageBody
	if !bindStrictJSON(c, &in) {
		return
	}
	req := clients.ImageRequest{}
	if in.Image != nil {
		req.Image = *in.Image
	}
	if in.ImageURL != nil {
		req.ImageURL = *in.ImageURL
	}
	if req.Image == "" && req.ImageURL == "" {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": []FieldError{{
			Loc:  []string{"body"},
			Msg:  "Value error, Either image or image_url must be provided",
			Type: "value_error",
		}}})
		return
	}

	resp, err := h.edamam.NutrientsFromImage(c.Request.Context(), req, c.GetHeader(accountUserHeader))
	if err != nil {
		respondError(c, err)
		return
	}
	rawJSON(c, resp.Status, resp.Body)
}

// AutoComplete handles GET /api/food-database/auto-complete.
func (h *FoodDatabaseHandler) AutoComplete(c *gin.Context) {
	var q autoCompleteQuery
	if !bindQuery(c, &q) {
		return
	}
	limit := 0
	if q.Limit != nil {
		limit = *q.Limit
	}
	resp, err := h.edamam.AutoComplete(c.Request.Context(), q.Q, limit, c.GetHeader(accountUserHeader))
	if err != nil {
		respondError(c, err)
		return
	}
	rawJSON(c, resp.Status, resp.Body)
}
