package escrow

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"crosscall-backend/internal/protocol"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const erc20ABIJSON = `[
	{"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic(fmt.Sprintf("escrow: invalid ERC-20 ABI: %v", err))
	}
	erc20ABI = parsed
}

// ChainVault moves reward funds on the source chain through a custodian
// account. Token rewards are pulled with transferFrom on lock and pushed
// with transfer on release; native rewards arrive attached to the creating
// transaction, so lock is a no-op and release is a plain value transfer.
type ChainVault struct {
	client    *ethclient.Client
	chainID   *big.Int
	key       *ecdsa.PrivateKey
	custodian common.Address
}

// NewChainVault dials the source-chain RPC endpoint and derives the
// custodian address from the signing key.
func NewChainVault(rpcURL string, chainID *big.Int, privateKeyHex string) (*ChainVault, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse custodian key: %w", err)
	}
	return &ChainVault{
		client:    client,
		chainID:   chainID,
		key:       key,
		custodian: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Custodian returns the address holding escrowed funds.
func (v *ChainVault) Custodian() common.Address {
	return v.custodian
}

func (v *ChainVault) Lock(ctx context.Context, id common.Hash, asset protocol.RewardAsset, from common.Address, amount *big.Int) error {
	if asset.IsNative() {
		// Native value is attached to the creating transaction and already
		// sits with the custodian.
		return nil
	}
	calldata, err := packTransferFrom(from, v.custodian, amount)
	if err != nil {
		return err
	}
	if err := v.sendAndWait(ctx, asset.Token, nil, calldata); err != nil {
		return fmt.Errorf("pull %s of token %s for %s: %w", amount, asset.Token.Hex(), id.Hex(), err)
	}
	return nil
}

func (v *ChainVault) Release(ctx context.Context, id common.Hash, asset protocol.RewardAsset, to common.Address, amount *big.Int) error {
	var err error
	if asset.IsNative() {
		err = v.sendAndWait(ctx, to, amount, nil)
	} else {
		var calldata []byte
		if calldata, err = packTransfer(to, amount); err != nil {
			return err
		}
		err = v.sendAndWait(ctx, asset.Token, nil, calldata)
	}
	if err != nil {
		return fmt.Errorf("release %s to %s for %s: %w", amount, to.Hex(), id.Hex(), err)
	}
	return nil
}

func packTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	calldata, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("pack transfer: %w", err)
	}
	return calldata, nil
}

func packTransferFrom(from, to common.Address, amount *big.Int) ([]byte, error) {
	calldata, err := erc20ABI.Pack("transferFrom", from, to, amount)
	if err != nil {
		return nil, fmt.Errorf("pack transferFrom: %w", err)
	}
	return calldata, nil
}

// sendAndWait signs and submits one transaction from the custodian and
// blocks until it is mined. A reverted receipt is an error; the caller
// treats any error as "no funds moved".
func (v *ChainVault) sendAndWait(ctx context.Context, to common.Address, value *big.Int, calldata []byte) error {
	nonce, err := v.client.PendingNonceAt(ctx, v.custodian)
	if err != nil {
		return fmt.Errorf("pending nonce: %w", err)
	}
	gasPrice, err := v.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}
	if value == nil {
		value = new(big.Int)
	}
	gasLimit, err := v.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  v.custodian,
		To:    &to,
		Value: value,
		Data:  calldata,
	})
	if err != nil {
		return fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, calldata)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(v.chainID), v.key)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	if err := v.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send transaction: %w", err)
	}
	receipt, err := bind.WaitMined(ctx, v.client, signed)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}
	return nil
}
