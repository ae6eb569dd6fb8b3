package protocol

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRequest() Request {
	return Request{
		Requester: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Calls: []Call{
			{
				To:    common.HexToAddress("0x2222222222222222222222222222222222222222"),
				Data:  []byte{0xde, 0xad, 0xbe, 0xef},
				Value: big.NewInt(1000),
			},
		},
		DestinationChainID:   big.NewInt(42161),
		VerifyingContract:    common.HexToAddress("0x3333333333333333333333333333333333333333"),
		L2Oracle:             common.HexToAddress("0x4444444444444444444444444444444444444444"),
		L2OracleStorageKey:   common.HexToHash("0x05"),
		RewardAsset:          NativeAsset(),
		RewardAmount:         big.NewInt(5_000_000),
		FinalityDelaySeconds: 60,
		Nonce:                1,
		Expiry:               1_900_000_000,
		PrecheckContract:     common.Address{},
		PrecheckData:         nil,
	}
}

func TestHashDeterministic(t *testing.T) {
	a := sampleRequest()
	b := sampleRequest()

	ha, err := Hash(&a)
	require.NoError(t, err)
	hb, err := Hash(&b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
	assert.NotEqual(t, common.Hash{}, ha)
}

func TestHashSensitiveToEveryMutation(t *testing.T) {
	base := sampleRequest()
	baseHash, err := Hash(&base)
	require.NoError(t, err)

	mutations := map[string]func(*Request){
		"requester":    func(r *Request) { r.Requester = common.HexToAddress("0x9999999999999999999999999999999999999999") },
		"call data":    func(r *Request) { r.Calls[0].Data = []byte{0xca, 0xfe} },
		"call value":   func(r *Request) { r.Calls[0].Value = big.NewInt(1001) },
		"extra call":   func(r *Request) { r.Calls = append(r.Calls, Call{To: r.Calls[0].To}) },
		"chain id":     func(r *Request) { r.DestinationChainID = big.NewInt(10) },
		"oracle key":   func(r *Request) { r.L2OracleStorageKey = common.HexToHash("0x06") },
		"reward asset": func(r *Request) { r.RewardAsset = TokenAsset(common.HexToAddress("0x5555555555555555555555555555555555555555")) },
		"reward amt":   func(r *Request) { r.RewardAmount = big.NewInt(5_000_001) },
		"finality":     func(r *Request) { r.FinalityDelaySeconds = 61 },
		"nonce":        func(r *Request) { r.Nonce = 2 },
		"expiry":       func(r *Request) { r.Expiry = 1_900_000_001 },
		"precheck":     func(r *Request) { r.PrecheckData = []byte{0x01} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			req := sampleRequest()
			mutate(&req)
			h, err := Hash(&req)
			require.NoError(t, err)
			assert.NotEqual(t, baseHash, h)
		})
	}
}

func TestHashNilAmountsEncodeAsZero(t *testing.T) {
	a := sampleRequest()
	a.Calls[0].Value = nil
	b := sampleRequest()
	b.Calls[0].Value = big.NewInt(0)

	ha, err := Hash(&a)
	require.NoError(t, err)
	hb, err := Hash(&b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestFulfillmentStorageKey(t *testing.T) {
	id := common.HexToHash("0xabcdef")
	key := FulfillmentStorageKey(id)

	want := crypto.Keccak256Hash(id.Bytes(), FulfillmentInfoSlot.Bytes())
	assert.Equal(t, want, key)
	assert.NotEqual(t, key, FulfillmentStorageKey(common.HexToHash("0xabcdee")))
}
