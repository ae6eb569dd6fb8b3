// Package proofs implements the proof gate for EVM destination chains:
// merkle-patricia storage proofs of the fulfillment record, anchored to a
// state root published by the rollup oracle on the source chain.
package proofs

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"crosscall-backend/internal/protocol"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
)

// StorageProof is the wire format a claimer submits: the destination state
// root the proof hangs off, the timestamp of the block carrying that root,
// and the two merkle-patricia proof paths (account, then storage slot).
type StorageProof struct {
	StateRoot      common.Hash     `json:"stateRoot"`
	BlockTimestamp uint64          `json:"blockTimestamp"`
	AccountProof   []hexutil.Bytes `json:"accountProof"`
	StorageProof   []hexutil.Bytes `json:"storageProof"`
}

// StorageReader reads a storage slot on the source chain. *ethclient.Client
// satisfies it.
type StorageReader interface {
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// accountRLP is the canonical Ethereum account leaf.
type accountRLP struct {
	Nonce    uint64
	Balance  *big.Int
	Root     common.Hash
	CodeHash []byte
}

// Validator checks fulfillment claims against EVM storage proofs. It trusts
// exactly one thing: the destination state root it reads from the request's
// l2Oracle slot on the source chain. Everything else must be proven.
type Validator struct {
	oracle StorageReader
}

func NewValidator(oracle StorageReader) *Validator {
	return &Validator{oracle: oracle}
}

// Validate accepts the claim iff:
//  1. the submitted state root matches the root currently published at the
//     request's l2Oracle storage slot,
//  2. the account proof ties the verifying contract's storage trie to that
//     state root,
//  3. the storage proof shows a fulfillment record at the derived key,
//  4. the record matches the claimed fulfillment, and
//  5. the record is at least finalityDelaySeconds older than the proven
//     block, so a reorged fulfillment cannot be claimed.
func (v *Validator) Validate(ctx context.Context, storageKey common.Hash, fulfillment protocol.FulfillmentInfo, req *protocol.Request, proofData []byte) error {
	var proof StorageProof
	if err := json.Unmarshal(proofData, &proof); err != nil {
		return fmt.Errorf("decode proof: %w", err)
	}

	published, err := v.oracle.StorageAt(ctx, req.L2Oracle, req.L2OracleStorageKey, nil)
	if err != nil {
		return fmt.Errorf("read oracle slot: %w", err)
	}
	if common.BytesToHash(published) != proof.StateRoot {
		return fmt.Errorf("state root %s is not the published oracle root %s",
			proof.StateRoot.Hex(), common.BytesToHash(published).Hex())
	}

	accountValue, err := verifyPath(proof.StateRoot, crypto.Keccak256(req.VerifyingContract.Bytes()), proof.AccountProof)
	if err != nil {
		return fmt.Errorf("account proof: %w", err)
	}
	if len(accountValue) == 0 {
		return fmt.Errorf("verifying contract %s does not exist at the proven root", req.VerifyingContract.Hex())
	}
	var account accountRLP
	if err := rlp.DecodeBytes(accountValue, &account); err != nil {
		return fmt.Errorf("decode account leaf: %w", err)
	}

	slotValue, err := verifyPath(account.Root, crypto.Keccak256(storageKey.Bytes()), proof.StorageProof)
	if err != nil {
		return fmt.Errorf("storage proof: %w", err)
	}
	if len(slotValue) == 0 {
		return fmt.Errorf("no fulfillment record at key %s", storageKey.Hex())
	}
	var trimmed []byte
	if err := rlp.DecodeBytes(slotValue, &trimmed); err != nil {
		return fmt.Errorf("decode slot value: %w", err)
	}
	record := common.BytesToHash(trimmed)

	recorded := decodeFulfillment(record)
	if recorded.Filler != fulfillment.Filler || recorded.Timestamp != fulfillment.Timestamp {
		return fmt.Errorf("proven record {filler %s, timestamp %d} does not match claim {filler %s, timestamp %d}",
			recorded.Filler.Hex(), recorded.Timestamp, fulfillment.Filler.Hex(), fulfillment.Timestamp)
	}
	if proof.BlockTimestamp < recorded.Timestamp+req.FinalityDelaySeconds {
		return fmt.Errorf("fulfillment at %d has not aged %ds by proven block time %d",
			recorded.Timestamp, req.FinalityDelaySeconds, proof.BlockTimestamp)
	}
	return nil
}

// verifyPath runs a merkle-patricia proof. Nodes are keyed by their keccak
// hash, the form trie.VerifyProof expects.
func verifyPath(root common.Hash, key []byte, nodes []hexutil.Bytes) ([]byte, error) {
	db := rawdb.NewMemoryDatabase()
	for _, node := range nodes {
		if err := db.Put(crypto.Keccak256(node), node); err != nil {
			return nil, err
		}
	}
	return trie.VerifyProof(root, key, db)
}

// decodeFulfillment unpacks the single-slot record layout of the verifying
// contract: the filler address in the high 20 bytes, the execution timestamp
// in the low 12.
func decodeFulfillment(word common.Hash) protocol.FulfillmentInfo {
	return protocol.FulfillmentInfo{
		Filler:    common.BytesToAddress(word[:20]),
		Timestamp: new(big.Int).SetBytes(word[20:]).Uint64(),
	}
}

// EncodeFulfillment is the inverse of the record decoding; used by tooling
// and tests to build the on-chain word for a fulfillment.
func EncodeFulfillment(info protocol.FulfillmentInfo) common.Hash {
	var word common.Hash
	copy(word[:20], info.Filler.Bytes())
	ts := new(big.Int).SetUint64(info.Timestamp).Bytes()
	copy(word[32-len(ts):], ts)
	return word
}
