package lifecycle

import (
	"strings"

	"github.com/jo-hoe/palettebox/internal/backend/database"
)

type ColorInput struct {
	Name *string `json:"name,omitempty"`
	Hex  string  `json:"hex" validate:"hex6"`
	RGB  string  `json:"rgb" validate:"rgbfunc"`
}

// ImageInput references a blob that has already been uploaded.
type ImageInput struct {
	Filename     string `json:"filename" validate:"notblank"`
	OriginalName string `json:"originalName"`
	FilePath     string `json:"filePath" validate:"notblank"`
	FileSize     int64  `json:"fileSize" validate:"filesize"`
	MimeType     string `json:"mimeType" validate:"mimeallowed"`
}

type CreateRequest struct {
	Name        string       `json:"name" validate:"notblank"`
	SourceWork  string       `json:"sourceWork" validate:"notblank"`
	Description *string      `json:"description,omitempty"`
	Colors      []ColorInput `json:"colors" validate:"min=1,dive"`
	Images      []ImageInput `json:"images,omitempty" validate:"dive"`
}

// Update is either a StatusOnlyUpdate or a FullReplace.
type Update interface {
	isUpdate()
}

// StatusOnlyUpdate moves a character to APPROVED or REJECTED and touches nothing else.
type StatusOnlyUpdate struct {
	Status database.Status
}

// FullReplace rewrites a character's content and sends it back for review. A nil
// Colors or Images slice leaves that collection as stored; a non-nil one replaces it
// entirely.
type FullReplace struct {
	Name        string           `validate:"notblank" json:"name"`
	SourceWork  string           `validate:"notblank" json:"sourceWork"`
	Description *string          `json:"description"`
	Status      *database.Status `json:"status"`
	Colors      []ColorInput     `validate:"dive" json:"colors"`
	Images      []ImageInput     `validate:"dive" json:"images"`
}

func (StatusOnlyUpdate) isUpdate() {}
func (FullReplace) isUpdate()      {}

const (
	UpdateKindStatus = "status"
	UpdateKindFull   = "full"
)

// ReplaceRequest is the wire shape of an edit. Kind selects the variant explicitly;
// when it is empty the variant is inferred from which fields are present.
type ReplaceRequest struct {
	Kind        string           `json:"kind,omitempty"`
	Name        *string          `json:"name,omitempty"`
	SourceWork  *string          `json:"sourceWork,omitempty"`
	Description *string          `json:"description,omitempty"`
	Status      *database.Status `json:"status,omitempty"`
	Colors      []ColorInput     `json:"colors,omitempty"`
	Images      []ImageInput     `json:"images,omitempty"`
}

func (r ReplaceRequest) hasContent() bool {
	return r.Name != nil || r.SourceWork != nil || r.Description != nil || r.Colors != nil || r.Images != nil
}

// DecodeUpdate turns a ReplaceRequest into a concrete Update.
func DecodeUpdate(req ReplaceRequest) (Update, error) {
	switch strings.ToLower(strings.TrimSpace(req.Kind)) {
	case UpdateKindStatus:
		if req.Status == nil {
			return nil, &ValidationError{Field: "status", Reason: "is required for a status update"}
		}
		if req.hasContent() {
			return nil, &ValidationError{Reason: "a status update must not carry content fields"}
		}
		return StatusOnlyUpdate{Status: *req.Status}, nil
	case UpdateKindFull:
		if req.Name == nil || req.SourceWork == nil {
			return nil, &ValidationError{Reason: "a full replace requires name and sourceWork"}
		}
		return toFullReplace(req), nil
	case "":
	default:
		return nil, &ValidationError{Field: "kind", Reason: "must be \"status\" or \"full\""}
	}

	if req.Status != nil && !req.hasContent() {
		return StatusOnlyUpdate{Status: *req.Status}, nil
	}
	if req.Name != nil && req.SourceWork != nil {
		return toFullReplace(req), nil
	}
	return nil, &ValidationError{Reason: "request must be a status-only update or a full replace with name and sourceWork"}
}

func toFullReplace(req ReplaceRequest) FullReplace {
	return FullReplace{
		Name:        *req.Name,
		SourceWork:  *req.SourceWork,
		Description: req.Description,
		Status:      req.Status,
		Colors:      req.Colors,
		Images:      req.Images,
	}
}
