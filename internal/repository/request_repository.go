package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crosscall-backend/internal/models"

	"gorm.io/gorm"
)

// ErrNotFound is returned when no request row matches a lookup.
var ErrNotFound = errors.New("request not found")

// RequestRepository defines data access for call request records.
type RequestRepository interface {
	Create(ctx context.Context, request *models.CallRequest) error
	GetByID(ctx context.Context, id string) (*models.CallRequest, error)

	FindByRequester(ctx context.Context, requester string, page, pageSize int) ([]*models.CallRequest, int64, error)
	FindAll(ctx context.Context, page, pageSize int) ([]*models.CallRequest, int64, error)
	FindCancelCandidates(ctx context.Context, expiredBefore int64) ([]*models.CallRequest, error)

	MarkCompleted(ctx context.Context, id, filler, payoutRecipient string) error
	MarkCanceled(ctx context.Context, id string) error
	MarkCancelEligible(ctx context.Context, id string) error

	// Restore support
	HighestNonce(ctx context.Context) (uint64, error)
	LoadAll(ctx context.Context) ([]*models.CallRequest, error)
}

type requestRepository struct {
	db *gorm.DB
}

// NewRequestRepository creates a new RequestRepository instance
func NewRequestRepository(db *gorm.DB) RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Create(ctx context.Context, request *models.CallRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *requestRepository) GetByID(ctx context.Context, id string) (*models.CallRequest, error) {
	var request models.CallRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *requestRepository) FindByRequester(ctx context.Context, requester string, page, pageSize int) ([]*models.CallRequest, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.CallRequest{}).Where("requester = ?", requester)
	return r.paginate(query, page, pageSize)
}

func (r *requestRepository) FindAll(ctx context.Context, page, pageSize int) ([]*models.CallRequest, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.CallRequest{})
	return r.paginate(query, page, pageSize)
}

func (r *requestRepository) paginate(query *gorm.DB, page, pageSize int) ([]*models.CallRequest, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var requests []*models.CallRequest
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&requests).Error
	if err != nil {
		return nil, 0, err
	}
	return requests, total, nil
}

// FindCancelCandidates returns open requests whose expiry passed the given
// cutoff and that are not yet flagged cancel-eligible.
func (r *requestRepository) FindCancelCandidates(ctx context.Context, expiredBefore int64) ([]*models.CallRequest, error) {
	var requests []*models.CallRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND cancel_eligible = ? AND expiry <= ?",
			models.RequestStatusRequested, false, expiredBefore).
		Find(&requests).Error
	return requests, err
}

// MarkCompleted transitions a requested row to completed. The guarded WHERE
// makes the persisted transition exactly-once even under races.
func (r *requestRepository) MarkCompleted(ctx context.Context, id, filler, payoutRecipient string) error {
	result := r.db.WithContext(ctx).
		Model(&models.CallRequest{}).
		Where("id = ? AND status = ?", id, models.RequestStatusRequested).
		Updates(map[string]interface{}{
			"status":           models.RequestStatusCompleted,
			"filler":           filler,
			"payout_recipient": payoutRecipient,
			"updated_at":       time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("request %s is not in requested status", id)
	}
	return nil
}

func (r *requestRepository) MarkCanceled(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&models.CallRequest{}).
		Where("id = ? AND status = ?", id, models.RequestStatusRequested).
		Updates(map[string]interface{}{
			"status":     models.RequestStatusCanceled,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("request %s is not in requested status", id)
	}
	return nil
}

func (r *requestRepository) MarkCancelEligible(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.CallRequest{}).
		Where("id = ?", id).
		Update("cancel_eligible", true).Error
}

// HighestNonce returns the largest nonce ever persisted, 0 when the table is
// empty. The registry resumes its counter from this after a restart.
func (r *requestRepository) HighestNonce(ctx context.Context) (uint64, error) {
	var nonce *uint64
	err := r.db.WithContext(ctx).
		Model(&models.CallRequest{}).
		Select("MAX(nonce)").
		Scan(&nonce).Error
	if err != nil {
		return 0, err
	}
	if nonce == nil {
		return 0, nil
	}
	return *nonce, nil
}

func (r *requestRepository) LoadAll(ctx context.Context) ([]*models.CallRequest, error) {
	var requests []*models.CallRequest
	err := r.db.WithContext(ctx).Find(&requests).Error
	return requests, err
}
