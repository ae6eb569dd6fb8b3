package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"crosscall-backend/internal/models"
	"crosscall-backend/internal/protocol"
	"crosscall-backend/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	mu                sync.Mutex
	rows              map[string]*models.CallRequest
	failMarkCompleted bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{rows: make(map[string]*models.CallRequest)}
}

func (r *stubRepo) Create(_ context.Context, request *models.CallRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[request.ID]; ok {
		return fmt.Errorf("duplicate id %s", request.ID)
	}
	cp := *request
	r.rows[request.ID] = &cp
	return nil
}

func (r *stubRepo) GetByID(_ context.Context, id string) (*models.CallRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *stubRepo) FindByRequester(_ context.Context, requester string, page, pageSize int) ([]*models.CallRequest, int64, error) {
	return nil, 0, nil
}

func (r *stubRepo) FindAll(_ context.Context, page, pageSize int) ([]*models.CallRequest, int64, error) {
	return nil, 0, nil
}

func (r *stubRepo) FindCancelCandidates(_ context.Context, expiredBefore int64) ([]*models.CallRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.CallRequest
	for _, row := range r.rows {
		if row.Status == models.RequestStatusRequested && !row.CancelEligible && row.Expiry <= expiredBefore {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *stubRepo) MarkCompleted(_ context.Context, id, filler, payoutRecipient string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failMarkCompleted {
		return errors.New("connection reset")
	}
	row, ok := r.rows[id]
	if !ok || row.Status != models.RequestStatusRequested {
		return fmt.Errorf("request %s is not in requested status", id)
	}
	row.Status = models.RequestStatusCompleted
	row.Filler = filler
	row.PayoutRecipient = payoutRecipient
	return nil
}

func (r *stubRepo) MarkCanceled(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != models.RequestStatusRequested {
		return fmt.Errorf("request %s is not in requested status", id)
	}
	row.Status = models.RequestStatusCanceled
	return nil
}

func (r *stubRepo) MarkCancelEligible(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return errors.New("not found")
	}
	row.CancelEligible = true
	return nil
}

func (r *stubRepo) HighestNonce(_ context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var highest uint64
	for _, row := range r.rows {
		if row.Nonce > highest {
			highest = row.Nonce
		}
	}
	return highest, nil
}

func (r *stubRepo) LoadAll(_ context.Context) ([]*models.CallRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.CallRequest
	for _, row := range r.rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, nil
}

// countingVault is both the vault and the settlement ledger, the way the
// escrow book is in production.
type countingVault struct {
	releases int
	released map[string]string
}

func newCountingVault() *countingVault {
	return &countingVault{released: make(map[string]string)}
}

func (v *countingVault) Lock(context.Context, common.Hash, protocol.RewardAsset, common.Address, *big.Int) error {
	return nil
}

func (v *countingVault) Release(_ context.Context, id common.Hash, _ protocol.RewardAsset, to common.Address, _ *big.Int) error {
	v.releases++
	v.released[id.Hex()] = strings.ToLower(to.Hex())
	return nil
}

func (v *countingVault) Released(_ context.Context, requestID string) (string, bool, error) {
	recipient, ok := v.released[requestID]
	return recipient, ok, nil
}

type acceptAllValidator struct{}

func (acceptAllValidator) Validate(context.Context, common.Hash, protocol.FulfillmentInfo, *protocol.Request, []byte) error {
	return nil
}

var (
	testRequester = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testFiller    = common.HexToAddress("0xf111e700000000000000000000000000000000ff")
	testPayout    = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
)

func testDraft() protocol.Request {
	return protocol.Request{
		Calls: []protocol.Call{
			{To: common.HexToAddress("0x2222222222222222222222222222222222222222"), Data: []byte{0xde, 0xad}},
		},
		DestinationChainID:   big.NewInt(42161),
		VerifyingContract:    common.HexToAddress("0x3333333333333333333333333333333333333333"),
		L2Oracle:             common.HexToAddress("0x4444444444444444444444444444444444444444"),
		L2OracleStorageKey:   common.HexToHash("0x05"),
		RewardAsset:          protocol.NativeAsset(),
		RewardAmount:         big.NewInt(5_000_000),
		FinalityDelaySeconds: 60,
		Expiry:               uint64(time.Now().Add(time.Hour).Unix()),
	}
}

func TestRestoreBlocksSecondPayoutAfterLostRowUpdate(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepo()
	vault := newCountingVault()

	registry := protocol.NewRegistry(vault, acceptAllValidator{}, 0)
	svc := NewRequestService(registry, repo, vault, nil, NewPushService())

	_, id, err := svc.CreateRequest(ctx, testDraft(), testRequester, big.NewInt(5_000_000))
	require.NoError(t, err)

	// The claim settles and pays out, but the row update is lost.
	repo.failMarkCompleted = true
	fulfillment := protocol.FulfillmentInfo{Timestamp: 1_800_000_000, Filler: testFiller}
	require.NoError(t, svc.ClaimReward(ctx, id.Hex(), fulfillment, []byte(`{}`), testPayout))
	require.Equal(t, 1, vault.releases)

	row, err := repo.GetByID(ctx, id.Hex())
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusRequested, row.Status, "row lags behind the escrow release")

	// Restart: the stale row must not make the request claimable again.
	repo.failMarkCompleted = false
	registry2 := protocol.NewRegistry(vault, acceptAllValidator{}, 0)
	svc2 := NewRequestService(registry2, repo, vault, nil, NewPushService())
	require.NoError(t, svc2.Restore(ctx))

	assert.Equal(t, protocol.StatusCompleted, svc2.StatusOf(id.Hex()))
	row, err = repo.GetByID(ctx, id.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCompleted, row.Status, "row repaired from the escrow ledger")
	assert.Equal(t, strings.ToLower(testPayout.Hex()), row.PayoutRecipient)

	err = svc2.ClaimReward(ctx, id.Hex(), fulfillment, []byte(`{}`), testPayout)
	require.ErrorIs(t, err, protocol.ErrIllegalTransition)
	assert.Equal(t, 1, vault.releases, "reward must be released exactly once across restarts")
}

func TestRestoreRepairsRefundedRequestWithStaleRow(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepo()
	vault := newCountingVault()

	req := testDraft()
	req.Requester = testRequester
	req.Nonce = 1
	id, err := protocol.Hash(&req)
	require.NoError(t, err)
	payload, err := json.Marshal(&req)
	require.NoError(t, err)

	// The refund reached escrow but the row update was lost before the crash.
	require.NoError(t, repo.Create(ctx, &models.CallRequest{
		ID:           id.Hex(),
		Requester:    strings.ToLower(testRequester.Hex()),
		Nonce:        req.Nonce,
		Status:       models.RequestStatusRequested,
		RewardAmount: req.RewardAmount.String(),
		Expiry:       int64(req.Expiry),
		Payload:      string(payload),
	}))
	vault.released[id.Hex()] = strings.ToLower(testRequester.Hex())

	registry := protocol.NewRegistry(vault, acceptAllValidator{}, 0)
	svc := NewRequestService(registry, repo, vault, nil, NewPushService())
	require.NoError(t, svc.Restore(ctx))

	assert.Equal(t, protocol.StatusCanceled, svc.StatusOf(id.Hex()),
		"funds back at the requester read as a refund")
	row, err := repo.GetByID(ctx, id.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCanceled, row.Status)

	err = svc.ClaimReward(ctx, id.Hex(), protocol.FulfillmentInfo{Filler: testFiller}, []byte(`{}`), testPayout)
	require.ErrorIs(t, err, protocol.ErrIllegalTransition)
	assert.Equal(t, 0, vault.releases)
}

func TestRestoreLeavesOpenRequestsAlone(t *testing.T) {
	ctx := context.Background()
	repo := newStubRepo()
	vault := newCountingVault()

	registry := protocol.NewRegistry(vault, acceptAllValidator{}, 0)
	svc := NewRequestService(registry, repo, vault, nil, NewPushService())

	_, id, err := svc.CreateRequest(ctx, testDraft(), testRequester, big.NewInt(5_000_000))
	require.NoError(t, err)

	registry2 := protocol.NewRegistry(vault, acceptAllValidator{}, 0)
	svc2 := NewRequestService(registry2, repo, vault, nil, NewPushService())
	require.NoError(t, svc2.Restore(ctx))

	assert.Equal(t, protocol.StatusRequested, svc2.StatusOf(id.Hex()))
	require.NoError(t, svc2.ClaimReward(ctx, id.Hex(), protocol.FulfillmentInfo{Filler: testFiller}, []byte(`{}`), testPayout))
	assert.Equal(t, 1, vault.releases)
}
