package models

import (
	"time"
)

// EscrowState is the custody state of one locked reward.
type EscrowState string

const (
	EscrowStateHeld     EscrowState = "held"     // funds in custody
	EscrowStateReleased EscrowState = "released" // paid out or refunded (terminal)
)

// EscrowEntry is one book-entry custody record: a reward locked for a
// request and, eventually, released to exactly one recipient. Rows are never
// deleted; the table is the audit trail of every fund movement.
type EscrowEntry struct {
	ID        uint64      `json:"id" gorm:"primaryKey;autoIncrement"`
	RequestID string      `json:"request_id" gorm:"type:varchar(66);uniqueIndex;not null"`
	Asset     string      `json:"asset" gorm:"type:varchar(42);index;not null"`
	Amount    string      `json:"amount" gorm:"type:varchar(78);not null"`
	Payer     string      `json:"payer" gorm:"type:varchar(42);not null"`
	State     EscrowState `json:"state" gorm:"type:varchar(20);index;not null"`

	// Recipient and ReleasedAt are set when the entry leaves custody.
	Recipient  string     `json:"recipient,omitempty" gorm:"type:varchar(42)"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (EscrowEntry) TableName() string {
	return "escrow_entries"
}
