package escrow

import (
	"context"
	"log"
	"math/big"

	"crosscall-backend/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
)

// LedgeredVault pairs book-entry custody with on-chain fund movement. The
// guarded book transition settles first: a release must flip the entry from
// held to released before any transaction is sent, so once a reward has left
// custody a second release for the same request fails in the database and
// never reaches the chain. That holds even when the request row update after
// a settlement was lost to a crash.
type LedgeredVault struct {
	book  *Book
	chain *ChainVault
}

func NewLedgeredVault(book *Book, chain *ChainVault) *LedgeredVault {
	return &LedgeredVault{book: book, chain: chain}
}

// Custodian returns the on-chain custody account.
func (v *LedgeredVault) Custodian() common.Address {
	return v.chain.Custodian()
}

func (v *LedgeredVault) Lock(ctx context.Context, id common.Hash, asset protocol.RewardAsset, from common.Address, amount *big.Int) error {
	if err := v.book.Lock(ctx, id, asset, from, amount); err != nil {
		return err
	}
	if err := v.chain.Lock(ctx, id, asset, from, amount); err != nil {
		if derr := v.book.discard(ctx, id, asset, amount); derr != nil {
			log.Printf("⚠️ Failed to discard escrow entry after failed pull for %s: %v", id.Hex(), derr)
		}
		return err
	}
	return nil
}

func (v *LedgeredVault) Release(ctx context.Context, id common.Hash, asset protocol.RewardAsset, to common.Address, amount *big.Int) error {
	if err := v.book.Release(ctx, id, asset, to, amount); err != nil {
		return err
	}
	if err := v.chain.Release(ctx, id, asset, to, amount); err != nil {
		if rerr := v.book.reopen(ctx, id, asset, amount); rerr != nil {
			log.Printf("⚠️ Failed to reopen escrow entry after failed transfer for %s: %v", id.Hex(), rerr)
		}
		return err
	}
	return nil
}
