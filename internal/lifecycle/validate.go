package lifecycle

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator"
)

const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"

	DefaultMaxFileSize           = 5 * 1024 * 1024
	DefaultMaxImagesPerCharacter = 5
	// 25 megapixels decode to roughly 100 MB of RGBA
	DefaultMaxPixels = 25_000_000
)

var (
	hex6Pattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)
	rgbPattern  = regexp.MustCompile(`^rgb\(\s*(\d{1,3})\s*,\s*(\d{1,3})\s*,\s*(\d{1,3})\s*\)$`)
)

// Limits bound what a submission may reference.
type Limits struct {
	MaxFileSize           int64
	AllowedMimeTypes      []string
	MaxImagesPerCharacter int
	// MaxPixels caps width*height of an uploaded image.
	MaxPixels int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:           DefaultMaxFileSize,
		AllowedMimeTypes:      []string{MimeJPEG, MimePNG},
		MaxImagesPerCharacter: DefaultMaxImagesPerCharacter,
		MaxPixels:             DefaultMaxPixels,
	}
}

// NormalizeMimeType lower-cases the type and folds the non-standard image/jpg alias.
func NormalizeMimeType(mimeType string) string {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if m == "image/jpg" {
		return MimeJPEG
	}
	return m
}

// IsAllowedMimeType reports whether mimeType is in the allow-list after normalization.
func (l Limits) IsAllowedMimeType(mimeType string) bool {
	m := NormalizeMimeType(mimeType)
	for _, allowed := range l.AllowedMimeTypes {
		if NormalizeMimeType(allowed) == m {
			return true
		}
	}
	return false
}

type requestValidator struct {
	validate *validator.Validate
	limits   Limits
}

func newRequestValidator(limits Limits) *requestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})

	register := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("failed to register validation %s: %v", tag, err))
		}
	}
	register("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	register("hex6", func(fl validator.FieldLevel) bool {
		return hex6Pattern.MatchString(fl.Field().String())
	})
	register("rgbfunc", func(fl validator.FieldLevel) bool {
		return IsRGBFunc(fl.Field().String())
	})
	register("mimeallowed", func(fl validator.FieldLevel) bool {
		return limits.IsAllowedMimeType(fl.Field().String())
	})
	register("filesize", func(fl validator.FieldLevel) bool {
		size := fl.Field().Int()
		return size > 0 && size <= limits.MaxFileSize
	})

	return &requestValidator{validate: v, limits: limits}
}

// IsRGBFunc reports whether value has the form rgb(r, g, b) with components in 0..255.
func IsRGBFunc(value string) bool {
	m := rgbPattern.FindStringSubmatch(value)
	if m == nil {
		return false
	}
	for _, part := range m[1:] {
		n, err := strconv.Atoi(part)
		if err != nil || n > 255 {
			return false
		}
	}
	return true
}

func (rv *requestValidator) create(req *CreateRequest) error {
	normalizeImageInputs(req.Images)
	if err := rv.validate.Struct(req); err != nil {
		return rv.toValidationError(err)
	}
	return rv.checkImageCount(req.Images)
}

func (rv *requestValidator) fullReplace(req *FullReplace) error {
	normalizeImageInputs(req.Images)
	if err := rv.validate.Struct(req); err != nil {
		return rv.toValidationError(err)
	}
	if req.Colors != nil && len(req.Colors) == 0 {
		return &ValidationError{Field: "colors", Reason: "a replaced palette needs at least one color"}
	}
	if req.Status != nil && !req.Status.IsValid() {
		return &ValidationError{Field: "status", Reason: "must be PENDING, APPROVED or REJECTED"}
	}
	return rv.checkImageCount(req.Images)
}

func (rv *requestValidator) checkImageCount(images []ImageInput) error {
	if rv.limits.MaxImagesPerCharacter > 0 && len(images) > rv.limits.MaxImagesPerCharacter {
		return &ValidationError{
			Field:  "images",
			Reason: fmt.Sprintf("at most %d images are allowed", rv.limits.MaxImagesPerCharacter),
		}
	}
	return nil
}

func (rv *requestValidator) toValidationError(err error) error {
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) || len(fieldErrors) == 0 {
		return &ValidationError{Reason: err.Error()}
	}
	fe := fieldErrors[0]
	return &ValidationError{Field: fieldPath(fe.Namespace()), Reason: rv.reason(fe)}
}

func (rv *requestValidator) reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "notblank":
		return "must not be empty"
	case "min":
		if fe.Field() == "colors" {
			return "at least one color is required"
		}
		return fmt.Sprintf("must contain at least %s item(s)", fe.Param())
	case "hex6":
		return "must be # followed by six hex digits"
	case "rgbfunc":
		return "must look like rgb(r, g, b) with components from 0 to 255"
	case "mimeallowed":
		return "must be one of " + strings.Join(rv.limits.AllowedMimeTypes, ", ")
	case "filesize":
		return fmt.Sprintf("must be between 1 and %d bytes", rv.limits.MaxFileSize)
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

// fieldPath drops the Go struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func normalizeImageInputs(images []ImageInput) {
	for i := range images {
		images[i].MimeType = NormalizeMimeType(images[i].MimeType)
	}
}
