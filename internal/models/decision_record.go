package models

import (
	"time"

	"gorm.io/datatypes"
)

// DecisionRecord persists one admission decision for audit surfacing.
type DecisionRecord struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	RequestID  string `gorm:"type:varchar(64);index"`  // Request correlation ID.
	Identifier string `gorm:"type:varchar(255);index"` // Subject identifier (e.g. ip:1.2.3.4).
	Endpoint   string `gorm:"type:varchar(255)"`       // Requested endpoint.
	Tier       string `gorm:"type:varchar(64)"`        // Caller tier.

	Verdict      string `gorm:"type:varchar(16);not null;index"` // Final verdict.
	RiskScore    int    `gorm:"not null;default:0"`              // Clamped risk score.
	RiskLevel    string `gorm:"type:varchar(16)"`                // Risk classification.
	RetryAfterMs int64  `gorm:"not null;default:0"`              // Retry hint in milliseconds.

	Reasons      datatypes.JSON `gorm:"type:jsonb"` // Contributing reasons.
	AppliedRules datatypes.JSON `gorm:"type:jsonb"` // Evaluated rule IDs.

	ConfigID   string `gorm:"type:varchar(128)"`  // Config that decided.
	Generation int64  `gorm:"not null;default:0"` // Config generation used.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Decision timestamp.
}
