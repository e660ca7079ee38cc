package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"torvix/backend/internal/apperr"
)

var (
	emailPattern   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	barcodePattern = regexp.MustCompile(`^\d{8,24}$`)

	registerOnce sync.Once
)

// embeddedName marks embedded structs, which do not add a level to loc.
const embeddedName = "_"

// FieldError is one entry of a 422 validation response.
type FieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// registerValidators installs the custom binding rules and makes validator
// report fields by their JSON or form names.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			if f.Anonymous {
				return embeddedName
			}
			for _, tag := range []string{"json", "form"} {
				name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return f.Name
		})
		_ = v.RegisterValidation("emailaddr", func(fl validator.FieldLevel) bool {
			return emailPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("barcode", func(fl validator.FieldLevel) bool {
			return barcodePattern.MatchString(fl.Field().String())
		})
	})
}

// respondError renders err as {"detail": "..."}. Errors that are not
// *apperr.Error become a logged 500.
func respondError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	appErr, ok := apperr.As(err)
	switch {
	case !ok:
		slog.ErrorContext(ctx, "request failed", "path", c.FullPath(), "error", err)
		appErr = apperr.Internal("Internal Server Error")
	case appErr.Status >= http.StatusInternalServerError:
		slog.WarnContext(ctx, "request failed", "path", c.FullPath(), "status", appErr.Status, "error", err)
	}

	for k, v := range appErr.Headers {
		c.Header(k, v)
	}
	c.AbortWithStatusJSON(appErr.Status, gin.H{"detail": appErr.Detail})
}

// respondValidation renders a 422 with one FieldError per failed rule. loc is
// prefixed with source ("body", "query", "path").
func respondValidation(c *gin.Context, source string, err error) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": validationDetails(source, err)})
}

func validationDetails(source string, err error) []FieldError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, fieldError(source, fe))
		}
		return out
	}

	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.Is(err, io.EOF):
		return []FieldError{{Loc: []string{source}, Msg: "Field required", Type: "missing"}}
	case errors.As(err, &typeErr):
		loc := []string{source}
		if typeErr.Field != "" {
			loc = append(loc, strings.Split(typeErr.Field, ".")...)
		}
		return []FieldError{{Loc: loc, Msg: fmt.Sprintf("Input should be a valid %s", typeErr.Type.Kind()), Type: "type_error"}}
	case errors.As(err, &syntaxErr):
		return []FieldError{{Loc: []string{source, fmt.Sprint(syntaxErr.Offset)}, Msg: "JSON decode error", Type: "json_invalid"}}
	case errors.Is(err, io.ErrUnexpectedEOF):
		return []FieldError{{Loc: []string{source}, Msg: "JSON decode error", Type: "json_invalid"}}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return []FieldError{{Loc: []string{source, field}, Msg: "Extra inputs are not permitted", Type: "extra_forbidden"}}
	default:
		return []FieldError{{Loc: []string{source}, Msg: err.Error(), Type: "value_error"}}
	}
}

func fieldError(source string, fe validator.FieldError) FieldError {
	// Namespace is "Struct.field.sub[0].leaf"; drop the struct name.
	parts := strings.Split(fe.Namespace(), ".")
	loc := []string{source}
	for _, p := range parts[1:] {
		if p == embeddedName {
			continue
		}
		if name, idx, ok := strings.Cut(p, "["); ok {
			loc = append(loc, name, strings.TrimSuffix(idx, "]"))
			continue
		}
		loc = append(loc, p)
	}

	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return FieldError{Loc: loc, Msg: "Field required", Type: "missing"}
	case "min":
		if isString {
			return FieldError{Loc: loc, Msg: fmt.Sprintf("String should have at least %s characters", fe.Param()), Type: "string_too_short"}
		}
		if fe.Kind() == reflect.Slice {
			return FieldError{Loc: loc, Msg: fmt.Sprintf("List should have at least %s items", fe.Param()), Type: "too_short"}
		}
		return FieldError{Loc: loc, Msg: "Input should be greater than or equal to " + fe.Param(), Type: "greater_than_equal"}
	case "max":
		if isString {
			return FieldError{Loc: loc, Msg: fmt.Sprintf("String should have at most %s characters", fe.Param()), Type: "string_too_long"}
		}
		if fe.Kind() == reflect.Slice {
			return FieldError{Loc: loc, Msg: fmt.Sprintf("List should have at most %s items", fe.Param()), Type: "too_long"}
		}
		return FieldError{Loc: loc, Msg: "Input should be less than or equal to " + fe.Param(), Type: "less_than_equal"}
	case "gt":
		return FieldError{Loc: loc, Msg: "Input should be greater than " + fe.Param(), Type: "greater_than"}
	case "oneof":
		opts := strings.Split(fe.Param(), " ")
		return FieldError{Loc: loc, Msg: "Input should be " + quoteJoin(opts), Type: "enum"}
	case "emailaddr":
		return FieldError{Loc: loc, Msg: `String should match pattern '^[^@\s]+@[^@\s]+\.[^@\s]+$'`, Type: "string_pattern_mismatch"}
	case "barcode":
		return FieldError{Loc: loc, Msg: `String should match pattern '^\d{8,24}$'`, Type: "string_pattern_mismatch"}
	default:
		return FieldError{Loc: loc, Msg: fmt.Sprintf("Value error, failed %q rule", fe.Tag()), Type: "value_error"}
	}
}

func quoteJoin(opts []string) string {
	quoted := make([]string, len(opts))
	for i, o := range opts {
		quoted[i] = "'" + o + "'"
	}
	if len(quoted) == 1 {
		return quoted[0]
	}
	return strings.Join(quoted[:len(quoted)-1], ", ") + " or " + quoted[len(quoted)-1]
}

// bindJSON decodes the body into obj and validates it, answering 422 on
// failure. It reports whether the handler should continue.
func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		respondValidation(c, "body", err)
		return false
	}
	return true
}

// bindStrictJSON is bindJSON that also rejects unknown fields.
func bindStrictJSON(c *gin.Context, obj any) bool {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(obj); err != nil {
		respondValidation(c, "body", err)
		return false
	}
	if err := binding.Validator.ValidateStruct(obj); err != nil {
		respondValidation(c, "body", err)
		return false
	}
	return true
}

// bindQuery binds and validates query parameters into obj.
func bindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		respondValidation(c, "query", err)
		return false
	}
	return true
}

// rawJSON writes an upstream JSON body as-is.
func rawJSON(c *gin.Context, status int, body []byte) {
	c.Data(status, "application/json", body)
}
