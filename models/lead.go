package models

import "gorm.io/gorm"

// Lead represents a single contact the engine can send to. The wider CRM
// owns the full contact model; the engine only needs identity, address and
// suppression flags.
type Lead struct {
	gorm.Model
	UserID uint `gorm:"index" json:"user_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`

	// Suppression flags. A lead with any of these set is never enrolled and
	// never selected for sending.
	IsBounced      bool `gorm:"default:false" json:"is_bounced"`
	IsUnsubscribed bool `gorm:"default:false" json:"is_unsubscribed"`
	IsDoNotContact bool `gorm:"default:false" json:"is_do_not_contact"`
}

// Contactable reports whether the lead may receive sequence email.
func (l *Lead) Contactable() bool {
	return !l.IsBounced && !l.IsUnsubscribed && !l.IsDoNotContact
}
