package common

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// GenericEchoValidator runs struct tags on bound request bodies and answers with
// {error, field} on the first failure.
type GenericEchoValidator struct {
	once      sync.Once
	Validator *validator.Validate
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	gv.once.Do(func() {
		if gv.Validator == nil {
			gv.Validator = validator.New()
		}
		gv.Validator.RegisterTagNameFunc(jsonFieldName)
	})
	err := gv.Validator.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
		fe := fieldErrors[0]
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{
			"error": fe.Field() + " failed " + fe.Tag() + " check",
			"field": fe.Field(),
		})
	}
	return echo.NewHTTPError(http.StatusBadRequest, map[string]string{
		"error": "received invalid request body: " + err.Error(),
	})
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}
