package backend

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jo-hoe/palettebox/internal/backend/blobstore"
	"github.com/jo-hoe/palettebox/internal/backend/database"
	"github.com/jo-hoe/palettebox/internal/backend/imageprocessing"
	"github.com/jo-hoe/palettebox/internal/backend/middleware"
	"github.com/jo-hoe/palettebox/internal/backend/session"
	"github.com/jo-hoe/palettebox/internal/core"
	"github.com/jo-hoe/palettebox/internal/lifecycle"
	"github.com/labstack/echo/v4"
)

const mimePNG = "image/png"

type APIService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

type LoginRequest struct {
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type StatusRequest struct {
	Status database.Status `json:"status" validate:"required"`
}

type UploadResponse struct {
	Success bool                     `json:"success"`
	Files   []blobstore.UploadedFile `json:"files"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		coreService: coreService,
		config:      config,
	}
}

func (service *APIService) SetRoutes(e *echo.Echo) {
	gate := service.coreService.Gate()
	moderatorOnly := middleware.RequireModerator(gate)
	identify := middleware.IdentifyModerator(gate)

	// Set probe route
	e.GET("/probe", func(ctx echo.Context) error {
		return ctx.String(http.StatusOK, "API Service is running")
	})

	api := e.Group("/api")
	api.POST("/auth/login", service.loginHandler, middleware.LoginRateLimiter(service.config.Moderator.LoginAttemptsPerMinute))
	api.POST("/auth/logout", service.logoutHandler, moderatorOnly)

	api.GET("/characters", service.listCharactersHandler, identify)
	api.GET("/anime", service.listAnimeHandler)
	api.GET("/characters/:id", service.getCharacterHandler, identify)
	api.GET("/characters/:id/palette.png", service.paletteHandler, identify)
	api.POST("/characters", service.createCharacterHandler)
	api.PATCH("/characters/:id/status", service.updateStatusHandler, moderatorOnly)
	api.PUT("/characters/:id", service.replaceCharacterHandler, moderatorOnly)
	api.DELETE("/characters/:id", service.deleteCharacterHandler, moderatorOnly)
	api.POST("/upload", service.uploadHandler)

	e.GET("/uploads/:filename", service.serveUploadHandler)
	e.GET("/uploads/:filename/thumb", service.thumbnailHandler)
}

func (service *APIService) loginHandler(ctx echo.Context) error {
	var req LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}

	gate := service.coreService.Gate()
	token, err := gate.Login(ctx.Request().Context(), req.Password)
	if errors.Is(err, session.ErrInvalidCredentials) {
		slog.Warn("loginHandler: rejected login", "remote_ip", ctx.RealIP())
		return ctx.JSON(http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
	}
	if err != nil {
		slog.Error("loginHandler: failed to create session", "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to create session"})
	}

	expiresAt := time.Now().Add(gate.TTL()).UTC()
	ctx.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   ctx.Scheme() == "https",
		SameSite: http.SameSiteStrictMode,
	})
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}

func (service *APIService) logoutHandler(ctx echo.Context) error {
	if err := service.coreService.Gate().Logout(ctx.Request().Context(), middleware.TokenFromRequest(ctx)); err != nil {
		slog.Error("logoutHandler: failed to revoke session", "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to revoke session"})
	}
	ctx.SetCookie(&http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return ctx.JSON(http.StatusOK, map[string]bool{"success": true})
}

// listCharactersHandler shows anonymous callers approved characters only, whatever they ask for
func (service *APIService) listCharactersHandler(ctx echo.Context) error {
	engine := service.coreService.Engine()
	reqCtx := ctx.Request().Context()

	var (
		characters []*database.Character
		err        error
	)
	status := strings.TrimSpace(ctx.QueryParam("status"))
	switch {
	case !middleware.IsModerator(ctx):
		characters, err = engine.ListByStatus(reqCtx, database.StatusApproved)
	case status != "":
		characters, err = engine.ListByStatus(reqCtx, database.Status(strings.ToUpper(status)))
	default:
		characters, err = engine.ListAll(reqCtx)
	}
	if err != nil {
		return service.respondError(ctx, "listCharactersHandler", err)
	}

	filtered := lifecycle.FilterCharacters(characters, lifecycle.Filter{
		SourceWorkExact: ctx.QueryParam("anime"),
		TextQuery:       ctx.QueryParam("q"),
	})
	return ctx.JSON(http.StatusOK, filtered)
}

func (service *APIService) listAnimeHandler(ctx echo.Context) error {
	characters, err := service.coreService.Engine().ListByStatus(ctx.Request().Context(), database.StatusApproved)
	if err != nil {
		return service.respondError(ctx, "listAnimeHandler", err)
	}
	filtered := lifecycle.FilterCharacters(characters, lifecycle.Filter{TextQuery: ctx.QueryParam("q")})
	return ctx.JSON(http.StatusOK, lifecycle.GroupBySourceWork(filtered))
}

func (service *APIService) getCharacterHandler(ctx echo.Context) error {
	character, err := service.visibleCharacter(ctx)
	if err != nil {
		return service.respondError(ctx, "getCharacterHandler", err)
	}
	return ctx.JSON(http.StatusOK, character)
}

func (service *APIService) paletteHandler(ctx echo.Context) error {
	character, err := service.visibleCharacter(ctx)
	if err != nil {
		return service.respondError(ctx, "paletteHandler", err)
	}

	rendering := service.config.Rendering
	swatch, err := imageprocessing.RenderSwatchPNG(character.Colors, rendering.SwatchWidth, rendering.SwatchHeight)
	if err != nil {
		slog.Error("paletteHandler: failed to render swatch", "character_id", character.ID, "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to render palette"})
	}

	ctx.Response().Header().Set("Cache-Control", "no-cache")
	return ctx.Blob(http.StatusOK, mimePNG, swatch)
}

// visibleCharacter hides non-approved characters from anonymous callers behind a 404
func (service *APIService) visibleCharacter(ctx echo.Context) (*database.Character, error) {
	id := ctx.Param("id")
	character, err := service.coreService.Engine().GetCharacter(ctx.Request().Context(), id)
	if err != nil {
		return nil, err
	}
	if !middleware.IsModerator(ctx) && !lifecycle.IsPubliclyVisible(character) {
		return nil, &lifecycle.NotFoundError{ID: id}
	}
	return character, nil
}

func (service *APIService) createCharacterHandler(ctx echo.Context) error {
	var req lifecycle.CreateRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}
	character, err := service.coreService.Engine().CreateCharacter(ctx.Request().Context(), req)
	if err != nil {
		return service.respondError(ctx, "createCharacterHandler", err)
	}
	return ctx.JSON(http.StatusCreated, character)
}

func (service *APIService) updateStatusHandler(ctx echo.Context) error {
	var req StatusRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}
	if err := ctx.Validate(&req); err != nil {
		return err
	}
	character, err := service.coreService.Engine().UpdateStatus(ctx.Request().Context(), ctx.Param("id"), req.Status)
	if err != nil {
		return service.respondError(ctx, "updateStatusHandler", err)
	}
	return ctx.JSON(http.StatusOK, character)
}

func (service *APIService) replaceCharacterHandler(ctx echo.Context) error {
	var req lifecycle.ReplaceRequest
	if err := ctx.Bind(&req); err != nil {
		return err
	}
	update, err := lifecycle.DecodeUpdate(req)
	if err != nil {
		return service.respondError(ctx, "replaceCharacterHandler", err)
	}
	character, err := service.coreService.Engine().ReplaceCharacterContent(ctx.Request().Context(), ctx.Param("id"), update)
	if err != nil {
		return service.respondError(ctx, "replaceCharacterHandler", err)
	}
	return ctx.JSON(http.StatusOK, character)
}

func (service *APIService) deleteCharacterHandler(ctx echo.Context) error {
	if err := service.coreService.Engine().DeleteCharacter(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return service.respondError(ctx, "deleteCharacterHandler", err)
	}
	return ctx.JSON(http.StatusOK, map[string]bool{"success": true})
}

// uploadHandler stores every part of the "files" field or none of them
func (service *APIService) uploadHandler(ctx echo.Context) error {
	form, err := ctx.MultipartForm()
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "expected multipart form data"})
	}
	files := form.File["files"]
	if len(files) == 0 {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "No files uploaded"})
	}
	if limit := service.config.Upload.MaxFilesPerRequest; len(files) > limit {
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "Too many files. Maximum is " + strconv.Itoa(limit)})
	}

	reqCtx := ctx.Request().Context()
	uploader := service.coreService.Uploader()
	accepted := make([]blobstore.UploadedFile, 0, len(files))
	for _, file := range files {
		uploaded, err := uploader.Accept(reqCtx, file)
		if err != nil {
			service.discardUploads(ctx, accepted)
			var rejection *blobstore.RejectionError
			if errors.As(err, &rejection) {
				slog.Warn("uploadHandler: rejected file", "filename", file.Filename, "reason", rejection.Reason)
				return ctx.JSON(http.StatusBadRequest, errorResponse{Error: rejection.Reason})
			}
			slog.Error("uploadHandler: failed to store file", "filename", file.Filename, "error", err)
			return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to store uploaded file"})
		}
		accepted = append(accepted, *uploaded)
	}

	return ctx.JSON(http.StatusOK, UploadResponse{Success: true, Files: accepted})
}

func (service *APIService) discardUploads(ctx echo.Context, files []blobstore.UploadedFile) {
	for _, f := range files {
		if err := service.coreService.Blobs().Delete(ctx.Request().Context(), f.FilePath); err != nil {
			slog.Warn("discardUploads: failed to remove partial upload", "path", f.FilePath, "error", err)
		}
	}
}

func (service *APIService) serveUploadHandler(ctx echo.Context) error {
	filename := ctx.Param("filename")
	rc, err := service.coreService.Blobs().Open(ctx.Request().Context(), filename)
	if err != nil {
		return service.blobError(ctx, "serveUploadHandler", filename, err)
	}
	defer rc.Close()

	// Stored names are generated by the server, so they never change content
	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Stream(http.StatusOK, contentTypeFor(filename), rc)
}

func (service *APIService) thumbnailHandler(ctx echo.Context) error {
	filename := ctx.Param("filename")
	width := service.config.Rendering.DefaultThumbWidth
	if raw := ctx.QueryParam("width"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return ctx.JSON(http.StatusBadRequest, errorResponse{Error: "width must be a positive integer", Field: "width"})
		}
		width = parsed
	}

	rc, err := service.coreService.Blobs().Open(ctx.Request().Context(), filename)
	if err != nil {
		return service.blobError(ctx, "thumbnailHandler", filename, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		slog.Error("thumbnailHandler: failed to read blob", "filename", filename, "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to read image"})
	}
	thumbnail, err := imageprocessing.Thumbnail(data, width, service.config.Limits().MaxPixels)
	if err != nil {
		slog.Warn("thumbnailHandler: thumbnail not available", "filename", filename, "error", err)
		return ctx.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "Thumbnail not available"})
	}

	ctx.Response().Header().Set("Cache-Control", "public, max-age=604800, immutable")
	return ctx.Blob(http.StatusOK, mimePNG, thumbnail)
}

func (service *APIService) blobError(ctx echo.Context, handler, filename string, err error) error {
	// invalid names are indistinguishable from missing files to the caller
	if !errors.Is(err, blobstore.ErrBlobNotFound) {
		slog.Warn(handler+": failed to open blob", "filename", filename, "error", err)
	}
	return ctx.JSON(http.StatusNotFound, errorResponse{Error: "File not found"})
}

// respondError maps engine error kinds to HTTP responses
func (service *APIService) respondError(ctx echo.Context, handler string, err error) error {
	switch lifecycle.KindOf(err) {
	case lifecycle.KindValidation:
		var validationErr *lifecycle.ValidationError
		errors.As(err, &validationErr)
		return ctx.JSON(http.StatusBadRequest, errorResponse{Error: validationErr.Error(), Field: validationErr.Field})
	case lifecycle.KindNotFound:
		return ctx.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	default:
		slog.Error(handler+": request failed", "status", http.StatusInternalServerError, "error", err)
		return ctx.JSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return mimePNG
	case ".jpg", ".jpeg":
		return lifecycle.MimeJPEG
	default:
		return "application/octet-stream"
	}
}
