// Package escrow provides the custody implementations behind the registry's
// vault boundary: a database book-entry vault and an on-chain vault.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"crosscall-backend/internal/metrics"
	"crosscall-backend/internal/models"
	"crosscall-backend/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
)

// Book is a gorm-backed book-entry vault. Every lock creates one custody row
// and every release closes it; rows are kept forever as the audit trail.
// All-or-nothing: a row that cannot be written means no custody change.
type Book struct {
	db *gorm.DB
}

func NewBook(db *gorm.DB) *Book {
	return &Book{db: db}
}

// Lock records custody of the reward for a request. A second lock for the
// same request is rejected by the unique index on request_id.
func (b *Book) Lock(ctx context.Context, id common.Hash, asset protocol.RewardAsset, from common.Address, amount *big.Int) error {
	entry := models.EscrowEntry{
		RequestID: id.Hex(),
		Asset:     strings.ToLower(asset.Address().Hex()),
		Amount:    amount.String(),
		Payer:     strings.ToLower(from.Hex()),
		State:     models.EscrowStateHeld,
	}
	if err := b.db.WithContext(ctx).Create(&entry).Error; err != nil {
		metrics.EscrowOperationsFailed.WithLabelValues("lock").Inc()
		return fmt.Errorf("create escrow entry for %s: %w", id.Hex(), err)
	}
	metrics.EscrowHeld.WithLabelValues(entry.Asset).Add(approx(amount))
	return nil
}

// Release closes the held entry for the request. The guarded update only
// matches a row still in custody, so a request can never be released twice
// even if two callers race on the database.
func (b *Book) Release(ctx context.Context, id common.Hash, asset protocol.RewardAsset, to common.Address, amount *big.Int) error {
	now := time.Now()
	result := b.db.WithContext(ctx).
		Model(&models.EscrowEntry{}).
		Where("request_id = ? AND state = ?", id.Hex(), models.EscrowStateHeld).
		Updates(map[string]interface{}{
			"state":       models.EscrowStateReleased,
			"recipient":   strings.ToLower(to.Hex()),
			"released_at": &now,
		})
	if result.Error != nil {
		metrics.EscrowOperationsFailed.WithLabelValues("release").Inc()
		return fmt.Errorf("release escrow entry for %s: %w", id.Hex(), result.Error)
	}
	if result.RowsAffected == 0 {
		metrics.EscrowOperationsFailed.WithLabelValues("release").Inc()
		return fmt.Errorf("no held escrow entry for %s", id.Hex())
	}
	metrics.EscrowHeld.WithLabelValues(strings.ToLower(asset.Address().Hex())).Sub(approx(amount))
	return nil
}

// approx narrows a big amount for the gauge; exact numbers come from
// HeldTotals.
func approx(amount *big.Int) float64 {
	f, _ := new(big.Float).SetInt(amount).Float64()
	return f
}

// Released reports whether the entry for a request has left custody, and who
// received the funds. The request row and the escrow entry are written in
// separate statements, so after a crash the row can lag behind the entry;
// this is how the restore path finds out.
func (b *Book) Released(ctx context.Context, requestID string) (string, bool, error) {
	var entry models.EscrowEntry
	err := b.db.WithContext(ctx).Where("request_id = ?", requestID).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query escrow entry for %s: %w", requestID, err)
	}
	return entry.Recipient, entry.State == models.EscrowStateReleased, nil
}

// discard removes the entry after the matching on-chain pull failed; no funds
// ever entered custody.
func (b *Book) discard(ctx context.Context, id common.Hash, asset protocol.RewardAsset, amount *big.Int) error {
	err := b.db.WithContext(ctx).
		Where("request_id = ?", id.Hex()).
		Delete(&models.EscrowEntry{}).Error
	if err != nil {
		return fmt.Errorf("discard escrow entry for %s: %w", id.Hex(), err)
	}
	metrics.EscrowHeld.WithLabelValues(strings.ToLower(asset.Address().Hex())).Sub(approx(amount))
	return nil
}

// reopen returns a released entry to custody after the on-chain transfer
// failed; the funds never actually moved.
func (b *Book) reopen(ctx context.Context, id common.Hash, asset protocol.RewardAsset, amount *big.Int) error {
	err := b.db.WithContext(ctx).
		Model(&models.EscrowEntry{}).
		Where("request_id = ? AND state = ?", id.Hex(), models.EscrowStateReleased).
		Updates(map[string]interface{}{
			"state":       models.EscrowStateHeld,
			"recipient":   "",
			"released_at": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("reopen escrow entry for %s: %w", id.Hex(), err)
	}
	metrics.EscrowHeld.WithLabelValues(strings.ToLower(asset.Address().Hex())).Add(approx(amount))
	return nil
}

// HeldTotals sums the amounts still in custody, grouped by asset address.
// Amounts are stored as decimal strings, so summation happens here rather
// than in SQL.
func (b *Book) HeldTotals(ctx context.Context) (map[string]*big.Int, error) {
	var entries []models.EscrowEntry
	if err := b.db.WithContext(ctx).
		Where("state = ?", models.EscrowStateHeld).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("query held escrow entries: %w", err)
	}
	totals := make(map[string]*big.Int)
	for _, e := range entries {
		amount, ok := new(big.Int).SetString(e.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("escrow entry %d has malformed amount %q", e.ID, e.Amount)
		}
		if _, exists := totals[e.Asset]; !exists {
			totals[e.Asset] = new(big.Int)
		}
		totals[e.Asset].Add(totals[e.Asset], amount)
	}
	return totals, nil
}
