package protocol

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Vault is the escrow boundary the registry drives. Lock pulls the reward
// into custody at creation; Release pushes it out on settlement or refund.
// Both are all-or-nothing: any error means no funds moved.
type Vault interface {
	Lock(ctx context.Context, id common.Hash, asset RewardAsset, from common.Address, amount *big.Int) error
	Release(ctx context.Context, id common.Hash, asset RewardAsset, to common.Address, amount *big.Int) error
}

// Validator is the proof gate consulted on claims. It must reject unless the
// proof demonstrates that the fulfillment record sits at storageKey in the
// request's verifying contract and has aged past the finality delay.
type Validator interface {
	Validate(ctx context.Context, storageKey common.Hash, fulfillment FulfillmentInfo, req *Request, proof []byte) error
}

// Registry is the authoritative request lifecycle state machine. All
// operations run to completion under one mutex, so each observes the effects
// of every earlier one and no partial effects are ever visible.
type Registry struct {
	mu       sync.Mutex
	nonce    uint64
	statuses map[common.Hash]Status

	vault       Vault
	validator   Validator
	cancelDelay time.Duration
	now         func() time.Time
}

// NewRegistry builds an empty registry. A non-positive cancelDelay falls
// back to DefaultCancelDelay.
func NewRegistry(vault Vault, validator Validator, cancelDelay time.Duration) *Registry {
	if cancelDelay <= 0 {
		cancelDelay = DefaultCancelDelay
	}
	return &Registry{
		statuses:    make(map[common.Hash]Status),
		vault:       vault,
		validator:   validator,
		cancelDelay: cancelDelay,
		now:         time.Now,
	}
}

// Restore reloads persisted lifecycle state after a restart. The nonce
// counter resumes from the highest value ever assigned so identities can
// never be reissued.
func (r *Registry) Restore(statuses map[common.Hash]Status, highestNonce uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, st := range statuses {
		if st != StatusNone {
			r.statuses[id] = st
		}
	}
	if highestNonce > r.nonce {
		r.nonce = highestNonce
	}
}

// CancelDelay returns the grace period applied after expiry before
// cancellation is allowed.
func (r *Registry) CancelDelay() time.Duration {
	return r.cancelDelay
}

// StatusOf returns the lifecycle status of an identity, StatusNone if it has
// never been registered.
func (r *Registry) StatusOf(id common.Hash) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[id]
}

// CreateRequest registers a new request and locks its reward in escrow.
//
// The draft's requester and nonce are overwritten: the caller becomes the
// requester regardless of what the draft carried, and the nonce is the next
// value of the registry counter. attachedValue must equal the reward amount
// for native rewards and zero for token rewards (token rewards are pulled by
// the vault). The expiry must leave at least finalityDelaySeconds of room
// from now, otherwise no proof could ever be accepted in time.
//
// The nonce only advances when creation succeeds; a failed attempt leaves
// the counter untouched.
func (r *Registry) CreateRequest(ctx context.Context, draft Request, caller common.Address, attachedValue *big.Int) (*Request, common.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	required := new(big.Int)
	if draft.RewardAsset.IsNative() {
		required = bigOrZero(draft.RewardAmount)
	}
	if bigOrZero(attachedValue).Cmp(required) != 0 {
		return nil, common.Hash{}, &ValueError{Expected: required, Got: bigOrZero(attachedValue)}
	}

	now := r.now()
	minExpiry := now.Add(time.Duration(draft.FinalityDelaySeconds) * time.Second)
	expiry := time.Unix(int64(draft.Expiry), 0)
	if expiry.Before(minExpiry) {
		return nil, common.Hash{}, &TimingError{Op: "create request", Have: expiry, Threshold: minExpiry}
	}

	req := draft
	req.Requester = caller
	req.Nonce = r.nonce + 1

	id, err := Hash(&req)
	if err != nil {
		return nil, common.Hash{}, err
	}
	if st := r.statuses[id]; st != StatusNone {
		return nil, id, &StatusError{ID: id, Expected: StatusNone, Actual: st}
	}

	r.nonce = req.Nonce
	r.statuses[id] = StatusRequested
	if err := r.vault.Lock(ctx, id, req.RewardAsset, caller, bigOrZero(req.RewardAmount)); err != nil {
		delete(r.statuses, id)
		r.nonce = req.Nonce - 1
		return nil, id, fmt.Errorf("lock reward: %w", err)
	}
	return &req, id, nil
}

// CancelRequest refunds an escrowed reward to the requester. Only the
// recorded requester may cancel, only a Requested request can be canceled,
// and only once the expiry plus the cancel delay has passed. Expiry alone
// never cancels anything; an expired request stays claimable until this is
// called.
func (r *Registry) CancelRequest(ctx context.Context, req *Request, caller common.Address) (common.Hash, error) {
	id, err := Hash(req)
	if err != nil {
		return common.Hash{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if st := r.statuses[id]; st != StatusRequested {
		return id, &StatusError{ID: id, Expected: StatusRequested, Actual: st}
	}
	if caller != req.Requester {
		return id, &CallerError{Caller: caller, Requester: req.Requester}
	}
	now := r.now()
	threshold := time.Unix(int64(req.Expiry), 0).Add(r.cancelDelay)
	if now.Before(threshold) {
		return id, &TimingError{Op: "cancel request", Have: now, Threshold: threshold}
	}

	r.statuses[id] = StatusCanceled
	if err := r.vault.Release(ctx, id, req.RewardAsset, req.Requester, bigOrZero(req.RewardAmount)); err != nil {
		r.statuses[id] = StatusRequested
		return id, fmt.Errorf("refund reward: %w", err)
	}
	return id, nil
}

// ClaimReward releases an escrowed reward to payoutTo after the proof gate
// accepts evidence of fulfillment. Anyone may submit a claim; the proof,
// not the submitter, is what authorizes payment. A request can complete at
// most once, and a rejected proof leaves all state untouched.
func (r *Registry) ClaimReward(ctx context.Context, req *Request, fulfillment FulfillmentInfo, proof []byte, payoutTo common.Address) (common.Hash, error) {
	id, err := Hash(req)
	if err != nil {
		return common.Hash{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if st := r.statuses[id]; st != StatusRequested {
		return id, &StatusError{ID: id, Expected: StatusRequested, Actual: st}
	}
	storageKey := FulfillmentStorageKey(id)
	if err := r.validator.Validate(ctx, storageKey, fulfillment, req, proof); err != nil {
		return id, fmt.Errorf("%w: %v", ErrProofRejected, err)
	}

	r.statuses[id] = StatusCompleted
	if err := r.vault.Release(ctx, id, req.RewardAsset, payoutTo, bigOrZero(req.RewardAmount)); err != nil {
		r.statuses[id] = StatusRequested
		return id, fmt.Errorf("pay reward: %w", err)
	}
	return id, nil
}
