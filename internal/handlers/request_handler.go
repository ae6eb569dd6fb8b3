// Request Handlers - protocol operations and public queries
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"crosscall-backend/internal/models"
	"crosscall-backend/internal/protocol"
	"crosscall-backend/internal/services"
	"crosscall-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
)

// RequestHandler exposes the request lifecycle over HTTP.
type RequestHandler struct {
	service *services.RequestService
}

// NewRequestHandler creates a new RequestHandler instance
func NewRequestHandler(service *services.RequestService) *RequestHandler {
	return &RequestHandler{service: service}
}

// CallDTO is the wire form of one destination call.
type CallDTO struct {
	To    string `json:"to" binding:"required"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// RequestDTO is the wire form of a request draft. Amounts travel as decimal
// strings, byte payloads as 0x hex.
type RequestDTO struct {
	Requester            string    `json:"requester"`
	Calls                []CallDTO `json:"calls"`
	DestinationChainID   string    `json:"destination_chain_id" binding:"required"`
	VerifyingContract    string    `json:"verifying_contract" binding:"required"`
	L2Oracle             string    `json:"l2_oracle" binding:"required"`
	L2OracleStorageKey   string    `json:"l2_oracle_storage_key" binding:"required"`
	RewardAsset          string    `json:"reward_asset" binding:"required"`
	RewardAmount         string    `json:"reward_amount" binding:"required"`
	FinalityDelaySeconds uint64    `json:"finality_delay_seconds"`
	Nonce                uint64    `json:"nonce"`
	Expiry               uint64    `json:"expiry" binding:"required"`
	PrecheckContract     string    `json:"precheck_contract"`
	PrecheckData         string    `json:"precheck_data"`
}

func (d *RequestDTO) toProtocol() (*protocol.Request, error) {
	req := &protocol.Request{
		FinalityDelaySeconds: d.FinalityDelaySeconds,
		Nonce:                d.Nonce,
		Expiry:               d.Expiry,
	}

	var err error
	if d.Requester != "" {
		if req.Requester, err = utils.ParseAddress(d.Requester); err != nil {
			return nil, err
		}
	}
	if req.VerifyingContract, err = utils.ParseAddress(d.VerifyingContract); err != nil {
		return nil, err
	}
	if req.L2Oracle, err = utils.ParseAddress(d.L2Oracle); err != nil {
		return nil, err
	}
	if req.L2OracleStorageKey, err = utils.ParseHash(d.L2OracleStorageKey); err != nil {
		return nil, err
	}
	asset, err := utils.ParseAddress(d.RewardAsset)
	if err != nil {
		return nil, err
	}
	req.RewardAsset = protocol.AssetFromAddress(asset)
	if req.RewardAmount, err = utils.ParseAmount(d.RewardAmount); err != nil {
		return nil, err
	}
	chainID, err := utils.ParseAmount(d.DestinationChainID)
	if err != nil {
		return nil, err
	}
	req.DestinationChainID = chainID
	if d.PrecheckContract != "" {
		if req.PrecheckContract, err = utils.ParseAddress(d.PrecheckContract); err != nil {
			return nil, err
		}
	}
	if d.PrecheckData != "" {
		if req.PrecheckData, err = hexutil.Decode(d.PrecheckData); err != nil {
			return nil, err
		}
	}

	req.Calls = make([]protocol.Call, len(d.Calls))
	for i, c := range d.Calls {
		call := protocol.Call{}
		if call.To, err = utils.ParseAddress(c.To); err != nil {
			return nil, err
		}
		if c.Data != "" {
			if call.Data, err = hexutil.Decode(c.Data); err != nil {
				return nil, err
			}
		}
		if call.Value, err = utils.ParseAmount(c.Value); err != nil {
			return nil, err
		}
		req.Calls[i] = call
	}
	return req, nil
}

// CreateRequestBody is the POST /requests payload: the draft, the initiating
// account, and the native value attached to fund it.
type CreateRequestBody struct {
	Caller        string     `json:"caller" binding:"required"`
	AttachedValue string     `json:"attached_value"`
	Request       RequestDTO `json:"request" binding:"required"`
}

// CreateRequestHandler registers a new request and locks its reward.
// POST /api/v1/requests
func (h *RequestHandler) CreateRequestHandler(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	caller, err := utils.ParseAddress(body.Caller)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	attached, err := utils.ParseAmount(body.AttachedValue)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	draft, err := body.Request.toProtocol()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, id, err := h.service.CreateRequest(c.Request.Context(), *draft, caller, attached)
	if err != nil {
		respondProtocolError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data": gin.H{
			"id":      id.Hex(),
			"nonce":   req.Nonce,
			"status":  protocol.StatusRequested.String(),
			"request": req,
		},
	})
}

// CancelRequestBody names the account asking for the refund.
type CancelRequestBody struct {
	Caller string `json:"caller" binding:"required"`
}

// CancelRequestHandler refunds an expired request to its requester.
// POST /api/v1/requests/:id/cancel
func (h *RequestHandler) CancelRequestHandler(c *gin.Context) {
	id, err := utils.ParseHash(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var body CancelRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	caller, err := utils.ParseAddress(body.Caller)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.CancelRequest(c.Request.Context(), id.Hex(), caller); err != nil {
		respondProtocolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"id": id.Hex(), "status": protocol.StatusCanceled.String()},
	})
}

// FulfillmentDTO mirrors the destination-side fulfillment record.
type FulfillmentDTO struct {
	Timestamp uint64 `json:"timestamp" binding:"required"`
	Filler    string `json:"filler" binding:"required"`
}

// ClaimRewardBody carries the claimed fulfillment, the raw proof for the
// validator, and where the reward should go.
type ClaimRewardBody struct {
	Fulfillment     FulfillmentDTO  `json:"fulfillment" binding:"required"`
	Proof           json.RawMessage `json:"proof" binding:"required"`
	PayoutRecipient string          `json:"payout_recipient" binding:"required"`
}

// ClaimRewardHandler settles a request against a fulfillment proof.
// POST /api/v1/requests/:id/claim
func (h *RequestHandler) ClaimRewardHandler(c *gin.Context) {
	id, err := utils.ParseHash(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var body ClaimRewardBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	filler, err := utils.ParseAddress(body.Fulfillment.Filler)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payout, err := utils.ParseAddress(body.PayoutRecipient)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fulfillment := protocol.FulfillmentInfo{
		Timestamp: body.Fulfillment.Timestamp,
		Filler:    filler,
	}

	if err := h.service.ClaimReward(c.Request.Context(), id.Hex(), fulfillment, body.Proof, payout); err != nil {
		respondProtocolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"id": id.Hex(), "status": protocol.StatusCompleted.String()},
	})
}

// GetStatusHandler answers from the in-memory registry.
// GET /api/v1/requests/:id/status
func (h *RequestHandler) GetStatusHandler(c *gin.Context) {
	id, err := utils.ParseHash(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := h.service.StatusOf(id.Hex())
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"id": id.Hex(), "status": status.String()},
	})
}

// GetRequestHandler returns the persisted record.
// GET /api/v1/requests/:id
func (h *RequestHandler) GetRequestHandler(c *gin.Context) {
	id, err := utils.ParseHash(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	row, err := h.service.GetRequest(c.Request.Context(), id.Hex())
	if err != nil {
		respondProtocolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": row})
}

// GetCallsHandler returns the destination call descriptors a filler needs.
// GET /api/v1/requests/:id/calls
func (h *RequestHandler) GetCallsHandler(c *gin.Context) {
	id, err := utils.ParseHash(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	calls, err := h.service.GetCalls(c.Request.Context(), id.Hex())
	if err != nil {
		respondProtocolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"id": id.Hex(), "calls": calls}})
}

// HashRequestHandler derives the identity for a draft without registering
// anything. POST /api/v1/requests/hash
func (h *RequestHandler) HashRequestHandler(c *gin.Context) {
	var dto RequestDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}
	req, err := dto.toProtocol()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := h.service.HashDraft(req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"id": id.Hex()}})
}

// ListRequestsHandler lists requests, optionally filtered by requester.
// GET /api/v1/requests?requester=0x..&page=1&page_size=20
func (h *RequestHandler) ListRequestsHandler(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	var (
		rows  []*models.CallRequest
		total int64
		err   error
	)
	if requester := c.Query("requester"); requester != "" {
		if !utils.IsEvmAddress(requester) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid requester address"})
			return
		}
		rows, total, err = h.service.ListByRequester(c.Request.Context(), requester, page, pageSize)
	} else {
		rows, total, err = h.service.ListAll(c.Request.Context(), page, pageSize)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"requests":  rows,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

// respondProtocolError maps the protocol failure classes onto HTTP statuses.
// An unknown identity reads as 404; everything else keeps its class.
func respondProtocolError(c *gin.Context, err error) {
	var se *protocol.StatusError
	if errors.As(err, &se) && se.Actual == protocol.StatusNone {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	switch {
	case errors.Is(err, protocol.ErrValueMismatch), errors.Is(err, protocol.ErrTimingViolation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, protocol.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, protocol.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, protocol.ErrProofRejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
