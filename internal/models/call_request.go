package models

import (
	"time"
)

// RequestStatus is the persisted lifecycle status of a cross-chain call
// request. It mirrors the in-memory state machine; "none" is never stored.
type RequestStatus string

const (
	RequestStatusRequested RequestStatus = "requested" // reward locked in escrow, awaiting proof or cancellation
	RequestStatusCompleted RequestStatus = "completed" // proof accepted, reward paid out (terminal)
	RequestStatusCanceled  RequestStatus = "canceled"  // requester refunded after the grace window (terminal)
)

// CallRequest is the durable record of a request. ID is the keccak identity
// hash; Payload holds the full canonical request JSON so the registry can be
// rebuilt after a restart.
type CallRequest struct {
	ID        string        `json:"id" gorm:"primaryKey;type:varchar(66)"`
	Requester string        `json:"requester" gorm:"type:varchar(42);index;not null"`
	Nonce     uint64        `json:"nonce" gorm:"uniqueIndex;not null"`
	Status    RequestStatus `json:"status" gorm:"type:varchar(20);index;not null"`

	DestinationChainID   string `json:"destination_chain_id" gorm:"type:varchar(78);index"`
	VerifyingContract    string `json:"verifying_contract" gorm:"type:varchar(42)"`
	L2Oracle             string `json:"l2_oracle" gorm:"type:varchar(42)"`
	RewardAsset          string `json:"reward_asset" gorm:"type:varchar(42);index"`
	RewardAmount         string `json:"reward_amount" gorm:"type:varchar(78);not null"`
	FinalityDelaySeconds uint64 `json:"finality_delay_seconds"`
	Expiry               int64  `json:"expiry" gorm:"index;not null"`

	// Payload is the canonical request JSON, identity-complete.
	Payload string `json:"payload" gorm:"type:text;not null"`

	// CancelEligible is set by the expiry watcher once expiry + cancel delay
	// has passed. Informational only; cancellation stays explicit.
	CancelEligible bool `json:"cancel_eligible" gorm:"index;default:false"`

	// Settlement outcome, filled on completion.
	Filler          string `json:"filler,omitempty" gorm:"type:varchar(42)"`
	PayoutRecipient string `json:"payout_recipient,omitempty" gorm:"type:varchar(42)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CallRequest) TableName() string {
	return "call_requests"
}
