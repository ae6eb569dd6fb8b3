package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"

	"crosscall-backend/internal/events"
	"crosscall-backend/internal/metrics"
	"crosscall-backend/internal/models"
	"crosscall-backend/internal/protocol"
	"crosscall-backend/internal/repository"
	"crosscall-backend/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// SettlementLedger reports whether a reward has already left escrow custody,
// and who received it. *escrow.Book satisfies it.
type SettlementLedger interface {
	Released(ctx context.Context, requestID string) (recipient string, released bool, err error)
}

// RequestService orchestrates the protocol operations: it drives the
// in-memory registry (the authority on lifecycle and escrow) and mirrors
// every accepted transition into the database, NATS and the WebSocket hub.
type RequestService struct {
	registry  *protocol.Registry
	repo      repository.RequestRepository
	ledger    SettlementLedger
	publisher *events.Publisher
	push      *PushService
}

func NewRequestService(registry *protocol.Registry, repo repository.RequestRepository, ledger SettlementLedger, publisher *events.Publisher, push *PushService) *RequestService {
	return &RequestService{
		registry:  registry,
		repo:      repo,
		ledger:    ledger,
		publisher: publisher,
		push:      push,
	}
}

// Restore rebuilds the registry from persisted rows. Called once at startup
// before the HTTP surface opens.
//
// Rows are reconciled against the escrow ledger first: a crash between the
// guarded escrow release and the request row update leaves a row that still
// reads requested for a reward that already left custody. Restoring that row
// as-is would let the request settle a second time, so the terminal status is
// recovered from the ledger and the row repaired before the registry sees it.
func (s *RequestService) Restore(ctx context.Context) error {
	rows, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load persisted requests: %w", err)
	}
	highestNonce, err := s.repo.HighestNonce(ctx)
	if err != nil {
		return fmt.Errorf("load highest nonce: %w", err)
	}

	statuses := make(map[common.Hash]protocol.Status, len(rows))
	for _, row := range rows {
		status := statusFromModel(row.Status)
		if status == protocol.StatusRequested && s.ledger != nil {
			if status, err = s.reconcileRow(ctx, row, status); err != nil {
				return err
			}
		}
		statuses[common.HexToHash(row.ID)] = status
	}
	s.registry.Restore(statuses, highestNonce)
	logrus.WithFields(logrus.Fields{
		"requests":      len(rows),
		"highest_nonce": highestNonce,
	}).Info("Registry state restored")
	return nil
}

// reconcileRow checks an open-looking row against the escrow ledger. A
// released entry means the request already settled: a refund if the funds
// went back to the requester, a completion otherwise.
func (s *RequestService) reconcileRow(ctx context.Context, row *models.CallRequest, status protocol.Status) (protocol.Status, error) {
	recipient, released, err := s.ledger.Released(ctx, row.ID)
	if err != nil {
		return status, fmt.Errorf("reconcile escrow for %s: %w", row.ID, err)
	}
	if !released {
		return status, nil
	}

	if utils.NormalizeAddress(recipient) == row.Requester {
		if err := s.repo.MarkCanceled(ctx, row.ID); err != nil {
			return status, fmt.Errorf("repair canceled row %s: %w", row.ID, err)
		}
		status = protocol.StatusCanceled
	} else {
		if err := s.repo.MarkCompleted(ctx, row.ID, "", utils.NormalizeAddress(recipient)); err != nil {
			return status, fmt.Errorf("repair completed row %s: %w", row.ID, err)
		}
		status = protocol.StatusCompleted
	}
	logrus.WithFields(logrus.Fields{
		"request_id": row.ID,
		"recipient":  recipient,
		"status":     status.String(),
	}).Warn("Repaired request row that lagged behind its escrow release")
	return status, nil
}

// CreateRequest runs the full creation flow. The returned request has the
// assigned nonce and overwritten requester.
func (s *RequestService) CreateRequest(ctx context.Context, draft protocol.Request, caller common.Address, attachedValue *big.Int) (*protocol.Request, common.Hash, error) {
	req, id, err := s.registry.CreateRequest(ctx, draft, caller, attachedValue)
	if err != nil {
		metrics.RequestOperationsFailed.WithLabelValues("create", failureReason(err)).Inc()
		return nil, id, err
	}

	row, err := requestToModel(req, id, models.RequestStatusRequested)
	if err == nil {
		err = s.repo.Create(ctx, row)
	}
	if err != nil {
		// The registry and escrow already accepted the request; losing the
		// row would orphan the funds after a restart.
		log.Printf("❌ Failed to persist request %s: %v", id.Hex(), err)
		return req, id, fmt.Errorf("persist request %s: %w", id.Hex(), err)
	}

	metrics.RequestsCreated.Inc()
	s.publisher.PublishRequestCreated(id, req)
	s.push.BroadcastStatusUpdate(RequestStatusUpdate{
		RequestID: id.Hex(),
		Status:    string(models.RequestStatusRequested),
	})
	logrus.WithFields(logrus.Fields{
		"request_id": id.Hex(),
		"requester":  req.Requester.Hex(),
		"nonce":      req.Nonce,
	}).Info("Request created")
	return req, id, nil
}

// CancelRequest refunds a persisted request. The request content is reloaded
// from the stored payload, so the caller only names the identity.
func (s *RequestService) CancelRequest(ctx context.Context, idHex string, caller common.Address) error {
	req, err := s.loadRequest(ctx, idHex)
	if err != nil {
		return err
	}

	id, err := s.registry.CancelRequest(ctx, req, caller)
	if err != nil {
		metrics.RequestOperationsFailed.WithLabelValues("cancel", failureReason(err)).Inc()
		return err
	}

	if err := s.repo.MarkCanceled(ctx, id.Hex()); err != nil {
		// The escrow ledger already recorded the refund; Restore repairs the
		// row from it at the next startup.
		log.Printf("❌ Failed to persist cancellation of %s: %v", id.Hex(), err)
	}
	metrics.RequestsCanceled.Inc()
	s.publisher.PublishRequestCanceled(id)
	s.push.BroadcastStatusUpdate(RequestStatusUpdate{
		RequestID: id.Hex(),
		Status:    string(models.RequestStatusCanceled),
	})
	logrus.WithField("request_id", id.Hex()).Info("Request canceled, reward refunded")
	return nil
}

// ClaimReward settles a persisted request against a fulfillment proof and
// pays the reward to payoutTo.
func (s *RequestService) ClaimReward(ctx context.Context, idHex string, fulfillment protocol.FulfillmentInfo, proof []byte, payoutTo common.Address) error {
	req, err := s.loadRequest(ctx, idHex)
	if err != nil {
		return err
	}

	id, err := s.registry.ClaimReward(ctx, req, fulfillment, proof, payoutTo)
	if err != nil {
		metrics.RequestOperationsFailed.WithLabelValues("claim", failureReason(err)).Inc()
		return err
	}

	filler := utils.NormalizeAddress(fulfillment.Filler.Hex())
	payout := utils.NormalizeAddress(payoutTo.Hex())
	if err := s.repo.MarkCompleted(ctx, id.Hex(), filler, payout); err != nil {
		// The escrow ledger already recorded the payout; Restore repairs the
		// row from it at the next startup.
		log.Printf("❌ Failed to persist completion of %s: %v", id.Hex(), err)
	}
	metrics.RequestsCompleted.Inc()
	s.publisher.PublishRequestCompleted(id, fulfillment.Filler, payoutTo)
	s.push.BroadcastStatusUpdate(RequestStatusUpdate{
		RequestID: id.Hex(),
		Status:    string(models.RequestStatusCompleted),
		Filler:    filler,
	})
	logrus.WithFields(logrus.Fields{
		"request_id": id.Hex(),
		"filler":     filler,
		"payout_to":  payout,
	}).Info("Request completed, reward released")
	return nil
}

// StatusOf answers from the in-memory registry, the authority on lifecycle.
func (s *RequestService) StatusOf(idHex string) protocol.Status {
	return s.registry.StatusOf(common.HexToHash(idHex))
}

// HashDraft derives the identity a draft would get with its current content.
// Pure; nothing is registered.
func (s *RequestService) HashDraft(draft *protocol.Request) (common.Hash, error) {
	return protocol.Hash(draft)
}

// GetRequest returns the persisted record.
func (s *RequestService) GetRequest(ctx context.Context, idHex string) (*models.CallRequest, error) {
	return s.repo.GetByID(ctx, idHex)
}

// GetCalls returns the destination call descriptors of a persisted request,
// the projection a filler needs to execute it.
func (s *RequestService) GetCalls(ctx context.Context, idHex string) ([]protocol.Call, error) {
	req, err := s.loadRequest(ctx, idHex)
	if err != nil {
		return nil, err
	}
	return req.Calls, nil
}

// ListByRequester returns the paginated history of one requester.
func (s *RequestService) ListByRequester(ctx context.Context, requester string, page, pageSize int) ([]*models.CallRequest, int64, error) {
	return s.repo.FindByRequester(ctx, utils.NormalizeAddress(requester), page, pageSize)
}

// ListAll returns all persisted requests, paginated. Admin surface.
func (s *RequestService) ListAll(ctx context.Context, page, pageSize int) ([]*models.CallRequest, int64, error) {
	return s.repo.FindAll(ctx, page, pageSize)
}

func (s *RequestService) loadRequest(ctx context.Context, idHex string) (*protocol.Request, error) {
	row, err := s.repo.GetByID(ctx, idHex)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &protocol.StatusError{
			ID:       common.HexToHash(idHex),
			Expected: protocol.StatusRequested,
			Actual:   protocol.StatusNone,
		}
	}
	if err != nil {
		return nil, err
	}
	var req protocol.Request
	if err := json.Unmarshal([]byte(row.Payload), &req); err != nil {
		return nil, fmt.Errorf("decode stored request %s: %w", idHex, err)
	}
	return &req, nil
}

func requestToModel(req *protocol.Request, id common.Hash, status models.RequestStatus) (*models.CallRequest, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request payload: %w", err)
	}
	return &models.CallRequest{
		ID:                   id.Hex(),
		Requester:            utils.NormalizeAddress(req.Requester.Hex()),
		Nonce:                req.Nonce,
		Status:               status,
		DestinationChainID:   req.DestinationChainID.String(),
		VerifyingContract:    utils.NormalizeAddress(req.VerifyingContract.Hex()),
		L2Oracle:             utils.NormalizeAddress(req.L2Oracle.Hex()),
		RewardAsset:          utils.NormalizeAddress(req.RewardAsset.Address().Hex()),
		RewardAmount:         req.RewardAmount.String(),
		FinalityDelaySeconds: req.FinalityDelaySeconds,
		Expiry:               int64(req.Expiry),
		Payload:              string(payload),
	}, nil
}

func statusFromModel(status models.RequestStatus) protocol.Status {
	switch status {
	case models.RequestStatusRequested:
		return protocol.StatusRequested
	case models.RequestStatusCompleted:
		return protocol.StatusCompleted
	case models.RequestStatusCanceled:
		return protocol.StatusCanceled
	default:
		return protocol.StatusNone
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrValueMismatch):
		return "value_mismatch"
	case errors.Is(err, protocol.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, protocol.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, protocol.ErrTimingViolation):
		return "timing_violation"
	case errors.Is(err, protocol.ErrProofRejected):
		return "proof_rejected"
	default:
		return "internal"
	}
}
