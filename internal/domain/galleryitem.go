package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// GalleryItem is the durable record of a generated asset: the uploaded
// content's URL plus the metadata needed to re-import it onto a board.
type GalleryItem struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;index;not null" json:"userId"`
	AssetID       string         `gorm:"uniqueIndex;not null" json:"assetId"`
	Kind          string         `gorm:"not null" json:"kind"`
	URL           string         `gorm:"not null" json:"url"`
	Prompt        string         `json:"prompt"`
	Model         string         `json:"model"`
	SourceAssetID string         `json:"sourceAssetId,omitempty"`
	Width         float64        `json:"width"`
	Height        float64        `json:"height"`
	Metadata      datatypes.JSON `json:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}
