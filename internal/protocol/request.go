// Package protocol implements the source-chain side of the cross-chain call
// settlement protocol: request identity derivation, the request lifecycle
// state machine, and the escrow/proof boundaries it drives.
package protocol

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NativeAssetSentinel is the reserved address that marks a reward denominated
// in the native currency of the source chain rather than an ERC-20 token.
var NativeAssetSentinel = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// DefaultCancelDelay is the grace period after expiry during which a request
// still cannot be canceled, leaving fillers a final window to submit a
// late-but-valid proof.
const DefaultCancelDelay = 24 * time.Hour

// AssetKind discriminates the two ways a reward can be denominated.
type AssetKind uint8

const (
	AssetNative AssetKind = iota
	AssetToken
)

// RewardAsset is a tagged union over {native currency, ERC-20 token}.
type RewardAsset struct {
	Kind  AssetKind
	Token common.Address // token contract, only meaningful when Kind == AssetToken
}

// NativeAsset returns the native-currency reward asset.
func NativeAsset() RewardAsset {
	return RewardAsset{Kind: AssetNative}
}

// TokenAsset returns a reward asset denominated in the given ERC-20 token.
func TokenAsset(token common.Address) RewardAsset {
	return RewardAsset{Kind: AssetToken, Token: token}
}

// AssetFromAddress maps an on-wire asset address to a RewardAsset, treating
// the sentinel address as native currency.
func AssetFromAddress(addr common.Address) RewardAsset {
	if addr == NativeAssetSentinel {
		return NativeAsset()
	}
	return TokenAsset(addr)
}

// Address returns the canonical on-wire address of the asset: the sentinel
// for native currency, the token contract otherwise.
func (a RewardAsset) Address() common.Address {
	if a.Kind == AssetNative {
		return NativeAssetSentinel
	}
	return a.Token
}

// IsNative reports whether the asset is the source chain's native currency.
func (a RewardAsset) IsNative() bool {
	return a.Kind == AssetNative
}

// MarshalJSON encodes the asset as its canonical on-wire address.
func (a RewardAsset) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Address())
}

// UnmarshalJSON decodes an on-wire address, mapping the sentinel to native.
func (a *RewardAsset) UnmarshalJSON(data []byte) error {
	var addr common.Address
	if err := json.Unmarshal(data, &addr); err != nil {
		return err
	}
	*a = AssetFromAddress(addr)
	return nil
}

// Call is one destination-chain call descriptor. The payload is opaque to
// this service; it is hashed into the request identity and handed to fillers
// verbatim.
type Call struct {
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *big.Int       `json:"value"`
}

// Request is the full content of a cross-chain call request. Every field
// participates in the identity hash; none may change after creation.
type Request struct {
	// Requester is overwritten with the initiating account at creation time
	// and authorizes cancellation. Refunds always go here.
	Requester common.Address `json:"requester"`

	// Calls are executed in order on the destination chain.
	Calls []Call `json:"calls"`

	// DestinationChainID and VerifyingContract identify where execution and
	// its attestation are expected to be recorded.
	DestinationChainID *big.Int       `json:"destinationChainId"`
	VerifyingContract  common.Address `json:"verifyingContract"`

	// L2Oracle and L2OracleStorageKey locate, from the source chain's
	// vantage point, the root of trust the proof gate verifies against.
	L2Oracle           common.Address `json:"l2Oracle"`
	L2OracleStorageKey common.Hash    `json:"l2OracleStorageKey"`

	// RewardAsset and RewardAmount describe the escrowed reward.
	RewardAsset  RewardAsset `json:"rewardAsset"`
	RewardAmount *big.Int    `json:"rewardAmount"`

	// FinalityDelaySeconds is the minimum age the destination-side
	// fulfillment record must have before a proof of it is accepted.
	FinalityDelaySeconds uint64 `json:"finalityDelaySeconds"`

	// Nonce is assigned by the registry at creation; it makes structurally
	// identical requests hash to distinct identities.
	Nonce uint64 `json:"nonce"`

	// Expiry is the unix time that starts the cancellation countdown: once
	// it plus the cancel delay passes, the requester may reclaim the reward.
	// It never blocks a claim; an expired request stays claimable until it
	// is actually canceled.
	Expiry uint64 `json:"expiry"`

	// PrecheckContract and PrecheckData are an optional destination-side
	// validation hook, opaque here.
	PrecheckContract common.Address `json:"precheckContract"`
	PrecheckData     hexutil.Bytes  `json:"precheckData"`
}

// FulfillmentInfo is the record the destination-side attestation store keeps
// at the derived storage key once the calls have been executed.
type FulfillmentInfo struct {
	// Timestamp is the destination-chain time of execution (unix seconds).
	Timestamp uint64 `json:"timestamp"`
	// Filler is the account that executed the calls and may claim the reward.
	Filler common.Address `json:"filler"`
}

// Status is the lifecycle state of a request identity.
type Status uint8

const (
	// StatusNone means the identity has never been seen.
	StatusNone Status = iota
	// StatusRequested means the request exists and its reward is in escrow.
	StatusRequested
	// StatusCompleted means a proof-backed claim released the reward. Terminal.
	StatusCompleted
	// StatusCanceled means the requester reclaimed the reward. Terminal.
	StatusCanceled
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusNone:
		return "none"
	case StatusRequested:
		return "requested"
	case StatusCompleted:
		return "completed"
	case StatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}
