package router

import (
	"fmt"

	"github.com/colorfulnotion/cartezcash/czerrors"
	"github.com/colorfulnotion/cartezcash/ledger"
	"github.com/colorfulnotion/cartezcash/types"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	depositPayloadSize = common.AddressLength + 32 + 20
	// WeiPerZatoshi scales host-chain wei (18 decimals) to zatoshi (8 decimals).
	WeiPerZatoshi = 10_000_000_000
)

var weiPerZatoshi = uint256.NewInt(WeiPerZatoshi)

// Deposit is a decoded portal deposit.
type Deposit struct {
	Sender common.Address
	Wei    *uint256.Int
	Amount uint64
	PKH    [20]byte
}

// Request returns the ledger request minting the deposit.
func (d *Deposit) Request() ledger.Mint {
	return ledger.Mint{Amount: d.Amount, To: types.P2PKHScript(d.PKH)}
}

// DecodeDeposit parses sender(20) || value(32, big-endian wei) || pkh(20).
// Wei below one zatoshi is dropped.
func DecodeDeposit(payload []byte) (*Deposit, error) {
	if len(payload) != depositPayloadSize {
		return nil, fmt.Errorf("%w: deposit payload is %d bytes, want %d", czerrors.ErrMalformedPayload, len(payload), depositPayloadSize)
	}
	d := &Deposit{
		Sender: common.BytesToAddress(payload[:20]),
		Wei:    new(uint256.Int).SetBytes32(payload[20:52]),
	}
	copy(d.PKH[:], payload[52:])

	zat := new(uint256.Int).Div(d.Wei, weiPerZatoshi)
	if zat.IsZero() || !zat.IsUint64() || zat.Uint64() > types.MaxMoney {
		return nil, fmt.Errorf("%w: %s wei", czerrors.ErrAmountOutOfRange, d.Wei.Dec())
	}
	d.Amount = zat.Uint64()
	return d, nil
}

// DecodeTransact parses withdraw(20) || transaction.
func DecodeTransact(payload []byte) (common.Address, *types.Transaction, error) {
	if len(payload) <= common.AddressLength {
		return common.Address{}, nil, fmt.Errorf("%w: transact payload is %d bytes", czerrors.ErrMalformedPayload, len(payload))
	}
	withdraw := common.BytesToAddress(payload[:common.AddressLength])
	tx, err := types.ParseTransaction(payload[common.AddressLength:])
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: %v", czerrors.ErrMalformedTransaction, err)
	}
	return withdraw, tx, nil
}
