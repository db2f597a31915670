package database

import "time"

// Status is the moderation state of a character.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// IsValid reports whether s is one of the known moderation states.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

type Character struct {
	ID          string    `db:"id" gorm:"type:text;primaryKey" json:"id"`
	Name        string    `db:"name" gorm:"type:text;not null" json:"name"`
	SourceWork  string    `db:"source_work" gorm:"type:text;not null;index" json:"sourceWork"`
	Description *string   `db:"description" gorm:"type:text" json:"description"`
	Status      Status    `db:"status" gorm:"type:text;not null;index:idx_characters_status_created,priority:1" json:"status"`
	CreatedAt   time.Time `db:"created_at" gorm:"not null;index:idx_characters_status_created,priority:2" json:"createdAt"`
	UpdatedAt   time.Time `db:"updated_at" gorm:"not null" json:"updatedAt"`
	// Seq follows insertion order and breaks createdAt ties. Only the Postgres store keeps
	// it as a column; SQLite uses rowid.
	Seq int64 `db:"-" gorm:"autoIncrement;not null;uniqueIndex" json:"-"`

	Colors []Color `gorm:"foreignKey:CharacterID;constraint:OnDelete:CASCADE" json:"colors"`
	Images []Image `gorm:"foreignKey:CharacterID;constraint:OnDelete:CASCADE" json:"images"`
}

type Color struct {
	ID          string  `db:"id" gorm:"type:text;primaryKey" json:"id"`
	CharacterID string  `db:"character_id" gorm:"type:text;not null;index" json:"characterId"`
	Name        *string `db:"name" gorm:"type:text" json:"name"`
	Hex         string  `db:"hex" gorm:"type:text;not null" json:"hex"`
	RGB         string  `db:"rgb" gorm:"column:rgb;type:text;not null" json:"rgb"`
	Position    int     `db:"position" gorm:"not null" json:"-"`
}

type Image struct {
	ID           string `db:"id" gorm:"type:text;primaryKey" json:"id"`
	CharacterID  string `db:"character_id" gorm:"type:text;not null;index" json:"characterId"`
	Filename     string `db:"filename" gorm:"type:text;not null" json:"filename"`
	OriginalName string `db:"original_name" gorm:"type:text;not null" json:"originalName"`
	FilePath     string `db:"file_path" gorm:"type:text;not null;uniqueIndex" json:"filePath"`
	FileSize     int64  `db:"file_size" gorm:"not null" json:"fileSize"`
	MimeType     string `db:"mime_type" gorm:"type:text;not null" json:"mimeType"`
	Position     int    `db:"position" gorm:"not null" json:"-"`
}

// BlobDeletion is a queued removal of a blob whose owning character is gone.
type BlobDeletion struct {
	ID          string    `db:"id" gorm:"type:text;primaryKey"`
	CharacterID string    `db:"character_id" gorm:"type:text;not null"`
	FilePath    string    `db:"file_path" gorm:"type:text;not null"`
	RequestedAt time.Time `db:"requested_at" gorm:"not null;index"`
	Attempts    int       `db:"attempts" gorm:"not null;default:0"`
	LastError   *string   `db:"last_error" gorm:"type:text"`
}

// ContentUpdate carries a full-content replace. Colors and Images are only
// written when the matching Replace flag is set; otherwise they stay as stored.
type ContentUpdate struct {
	Name          string
	SourceWork    string
	Description   *string
	Status        Status
	ReplaceColors bool
	Colors        []Color
	ReplaceImages bool
	Images        []Image
	// QueueBlobs queues the blobs of images dropped by the replace for the sweeper.
	QueueBlobs bool
	UpdatedAt  time.Time
}
