package models

import "time"

// OTPChallenge keeps track of a one-time code sent to a mobile number.
// Only the locally hashed verification path persists challenges.
type OTPChallenge struct {
	BaseModel
	Mobile    string     `gorm:"size:10;not null;index:idx_otp_lookup,priority:1" json:"mobile"`
	Purpose   string     `gorm:"size:16;not null;index:idx_otp_lookup,priority:2" json:"purpose"`
	CodeHash  string     `gorm:"not null" json:"-"`
	ExpiresAt time.Time  `gorm:"not null;index" json:"expiresAt"`
	Used      bool       `gorm:"not null" json:"used"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

// Live reports whether the challenge can still be verified at now.
func (c *OTPChallenge) Live(now time.Time) bool {
	return !c.Used && now.Before(c.ExpiresAt)
}
