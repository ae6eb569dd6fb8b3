package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"crosscall-backend/internal/models"
	"crosscall-backend/internal/protocol"
	"crosscall-backend/internal/repository"
	"crosscall-backend/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu   sync.Mutex
	rows map[string]*models.CallRequest
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]*models.CallRequest)}
}

func (r *memRepo) Create(_ context.Context, request *models.CallRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[request.ID]; ok {
		return fmt.Errorf("duplicate id %s", request.ID)
	}
	cp := *request
	r.rows[request.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id string) (*models.CallRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (r *memRepo) FindByRequester(_ context.Context, requester string, page, pageSize int) ([]*models.CallRequest, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.CallRequest
	for _, row := range r.rows {
		if row.Requester == requester {
			cp := *row
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	return out, int64(len(out)), nil
}

func (r *memRepo) FindAll(_ context.Context, page, pageSize int) ([]*models.CallRequest, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.CallRequest
	for _, row := range r.rows {
		cp := *row
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (r *memRepo) FindCancelCandidates(_ context.Context, expiredBefore int64) ([]*models.CallRequest, error) {
	return nil, nil
}

func (r *memRepo) MarkCompleted(_ context.Context, id, filler, payoutRecipient string) error {
	return r.setStatus(id, models.RequestStatusCompleted)
}

func (r *memRepo) MarkCanceled(_ context.Context, id string) error {
	return r.setStatus(id, models.RequestStatusCanceled)
}

func (r *memRepo) setStatus(id string, status models.RequestStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return errors.New("not found")
	}
	row.Status = status
	return nil
}

func (r *memRepo) MarkCancelEligible(_ context.Context, id string) error { return nil }

func (r *memRepo) HighestNonce(_ context.Context) (uint64, error) {
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

func (r *memRepo) LoadAll(_ context.Context) ([]*models.CallRequest, error) {
	return nil, nil
}

type okVault struct{}

func (okVault) Lock(context.Context, common.Hash, protocol.RewardAsset, common.Address, *big.Int) error {
	return nil
}
func (okVault) Release(context.Context, common.Hash, protocol.RewardAsset, common.Address, *big.Int) error {
	return nil
}

type stubValidator struct{ err error }

func (v *stubValidator) Validate(context.Context, common.Hash, protocol.FulfillmentInfo, *protocol.Request, []byte) error {
	return v.err
}

func newTestRouter(t *testing.T) (*gin.Engine, *stubValidator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	validator := &stubValidator{}
	registry := protocol.NewRegistry(okVault{}, validator, 0)
	service := services.NewRequestService(registry, newMemRepo(), nil, nil, services.NewPushService())
	handler := NewRequestHandler(service)

	r := gin.New()
	r.POST("/api/v1/requests", handler.CreateRequestHandler)
	r.POST("/api/v1/requests/hash", handler.HashRequestHandler)
	r.GET("/api/v1/requests/:id", handler.GetRequestHandler)
	r.GET("/api/v1/requests/:id/status", handler.GetStatusHandler)
	r.GET("/api/v1/requests/:id/calls", handler.GetCallsHandler)
	r.POST("/api/v1/requests/:id/cancel", handler.CancelRequestHandler)
	r.POST("/api/v1/requests/:id/claim", handler.ClaimRewardHandler)
	return r, validator
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func draftBody(attachedValue string) map[string]interface{} {
	return map[string]interface{}{
		"caller":         "0x1111111111111111111111111111111111111111",
		"attached_value": attachedValue,
		"request": map[string]interface{}{
			"calls": []map[string]interface{}{
				{"to": "0x2222222222222222222222222222222222222222", "data": "0xdeadbeef", "value": "0"},
			},
			"destination_chain_id":   "42161",
			"verifying_contract":     "0x3333333333333333333333333333333333333333",
			"l2_oracle":              "0x4444444444444444444444444444444444444444",
			"l2_oracle_storage_key":  "0x0000000000000000000000000000000000000000000000000000000000000005",
			"reward_asset":           "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE",
			"reward_amount":          "5000000",
			"finality_delay_seconds": 60,
			"expiry":                 uint64(time.Now().Add(time.Hour).Unix()),
		},
	}
}

func createRequest(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/api/v1/requests", draftBody("5000000"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.ID)
	return resp.Data.ID
}

func TestCreateAndQueryRequest(t *testing.T) {
	r, _ := newTestRouter(t)
	id := createRequest(t, r)

	w := doJSON(t, r, http.MethodGet, "/api/v1/requests/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"requested"`)

	w = doJSON(t, r, http.MethodGet, "/api/v1/requests/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"nonce":1`)

	w = doJSON(t, r, http.MethodGet, "/api/v1/requests/"+id+"/calls", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "0xdeadbeef")
}

func TestCreateRequestValueMismatchReturns400(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(t, r, http.MethodPost, "/api/v1/requests", draftBody("1"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "value mismatch")
}

func TestHashIsDeterministic(t *testing.T) {
	r, _ := newTestRouter(t)
	body := draftBody("5000000")["request"]

	first := doJSON(t, r, http.MethodPost, "/api/v1/requests/hash", body)
	second := doJSON(t, r, http.MethodPost, "/api/v1/requests/hash", body)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestCancelBeforeGraceReturns400(t *testing.T) {
	r, _ := newTestRouter(t)
	id := createRequest(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/v1/requests/"+id+"/cancel",
		map[string]string{"caller": "0x1111111111111111111111111111111111111111"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "cancel request")
}

func TestCancelByStrangerReturns403(t *testing.T) {
	r, _ := newTestRouter(t)
	id := createRequest(t, r)

	w := doJSON(t, r, http.MethodPost, "/api/v1/requests/"+id+"/cancel",
		map[string]string{"caller": "0x9999999999999999999999999999999999999999"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func claimBody() map[string]interface{} {
	return map[string]interface{}{
		"fulfillment": map[string]interface{}{
			"timestamp": uint64(time.Now().Unix()),
			"filler":    "0xf111e700000000000000000000000000000000ff",
		},
		"proof":            map[string]interface{}{"stateRoot": "0x00"},
		"payout_recipient": "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
	}
}

func TestClaimLifecycle(t *testing.T) {
	r, validator := newTestRouter(t)
	id := createRequest(t, r)

	// Rejected proof leaves the request open.
	validator.err = errors.New("bad proof")
	w := doJSON(t, r, http.MethodPost, "/api/v1/requests/"+id+"/claim", claimBody())
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	status := doJSON(t, r, http.MethodGet, "/api/v1/requests/"+id+"/status", nil)
	assert.Contains(t, status.Body.String(), `"status":"requested"`)

	// Accepted proof settles it exactly once.
	validator.err = nil
	w = doJSON(t, r, http.MethodPost, "/api/v1/requests/"+id+"/claim", claimBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodPost, "/api/v1/requests/"+id+"/claim", claimBody())
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestClaimUnknownRequestReturns404(t *testing.T) {
	r, _ := newTestRouter(t)
	unknown := "0x00000000000000000000000000000000000000000000000000000000000000aa"
	w := doJSON(t, r, http.MethodPost, "/api/v1/requests/"+unknown+"/claim", claimBody())
	assert.Equal(t, http.StatusNotFound, w.Code)
}
