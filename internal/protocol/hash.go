package protocol

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// FulfillmentInfoSlot is the storage slot index of the fulfillment mapping in
// the destination-side attestation contract. The per-request storage key is
// derived from it; see FulfillmentStorageKey.
var FulfillmentInfoSlot = common.BigToHash(big.NewInt(0))

// requestArgs is the ABI schema of the canonical request encoding. Field
// order is fixed; any reordering would silently change every identity.
var requestArgs abi.Arguments

func init() {
	callComponents := []abi.ArgumentMarshaling{
		{Name: "to", Type: "address"},
		{Name: "data", Type: "bytes"},
		{Name: "value", Type: "uint256"},
	}
	requestType, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "requester", Type: "address"},
		{Name: "calls", Type: "tuple[]", Components: callComponents},
		{Name: "destinationChainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
		{Name: "l2Oracle", Type: "address"},
		{Name: "l2OracleStorageKey", Type: "bytes32"},
		{Name: "rewardAsset", Type: "address"},
		{Name: "rewardAmount", Type: "uint256"},
		{Name: "finalityDelaySeconds", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "expiry", Type: "uint256"},
		{Name: "precheckContract", Type: "address"},
		{Name: "precheckData", Type: "bytes"},
	})
	if err != nil {
		panic(fmt.Sprintf("protocol: invalid request ABI schema: %v", err))
	}
	requestArgs = abi.Arguments{{Type: requestType}}
}

type abiCall struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

type abiRequest struct {
	Requester            common.Address
	Calls                []abiCall
	DestinationChainId   *big.Int
	VerifyingContract    common.Address
	L2Oracle             common.Address
	L2OracleStorageKey   [32]byte
	RewardAsset          common.Address
	RewardAmount         *big.Int
	FinalityDelaySeconds *big.Int
	Nonce                *big.Int
	Expiry               *big.Int
	PrecheckContract     common.Address
	PrecheckData         []byte
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// Encode returns the canonical ABI tuple encoding of the request. Every
// field participates, so two requests encode identically iff they are
// field-for-field equal.
func Encode(req *Request) ([]byte, error) {
	calls := make([]abiCall, len(req.Calls))
	for i, c := range req.Calls {
		calls[i] = abiCall{To: c.To, Data: c.Data, Value: bigOrZero(c.Value)}
	}
	return requestArgs.Pack(abiRequest{
		Requester:            req.Requester,
		Calls:                calls,
		DestinationChainId:   bigOrZero(req.DestinationChainID),
		VerifyingContract:    req.VerifyingContract,
		L2Oracle:             req.L2Oracle,
		L2OracleStorageKey:   req.L2OracleStorageKey,
		RewardAsset:          req.RewardAsset.Address(),
		RewardAmount:         bigOrZero(req.RewardAmount),
		FinalityDelaySeconds: new(big.Int).SetUint64(req.FinalityDelaySeconds),
		Nonce:                new(big.Int).SetUint64(req.Nonce),
		Expiry:               new(big.Int).SetUint64(req.Expiry),
		PrecheckContract:     req.PrecheckContract,
		PrecheckData:         req.PrecheckData,
	})
}

// Hash derives the request identity: keccak256 of the canonical encoding.
// It is pure; the same content always hashes to the same identity whether it
// comes from a draft or from persisted state.
func Hash(req *Request) (common.Hash, error) {
	encoded, err := Encode(req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode request: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// FulfillmentStorageKey derives the destination-side storage key at which the
// fulfillment record for the given request identity is expected:
// keccak256(id . slot), the Solidity mapping layout.
func FulfillmentStorageKey(id common.Hash) common.Hash {
	return crypto.Keccak256Hash(id.Bytes(), FulfillmentInfoSlot.Bytes())
}
