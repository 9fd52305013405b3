package models

import (
	"time"

	"gorm.io/datatypes"
)

// ConfigVersion records every accepted config load so operators can audit
// what was active when.
type ConfigVersion struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ConfigKey string `gorm:"type:varchar(255);not null;index"` // Registry key.
	ConfigID  string `gorm:"type:varchar(128);not null"`       // Config document ID.
	Version   int64  `gorm:"not null;default:0"`               // Operator-supplied version.
	Active    bool   `gorm:"not null;default:true"`            // Active flag at load time.

	Document datatypes.JSON `gorm:"type:jsonb"` // Full config document.

	LoadedAt time.Time `gorm:"not null;autoCreateTime"` // Load timestamp.
}
