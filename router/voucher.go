package router

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/cartezcash/note"
	"github.com/colorfulnotion/cartezcash/rollup"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const bridgeABI = `[{"type":"function","name":"withdrawEther","stateMutability":"nonpayable","inputs":[{"name":"receiver","type":"address"},{"name":"value","type":"uint256"}],"outputs":[]}]`

var bridge abi.ABI

func init() {
	var err error
	bridge, err = abi.JSON(strings.NewReader(bridgeABI))
	if err != nil {
		panic(err)
	}
}

// EncodeWithdrawal returns the calldata of withdrawEther(to, amount * 10^10).
func EncodeWithdrawal(to common.Address, amount uint64) ([]byte, error) {
	wei := new(uint256.Int).Mul(uint256.NewInt(amount), weiPerZatoshi)
	data, err := bridge.Pack("withdrawEther", to, wei.ToBig())
	if err != nil {
		return nil, fmt.Errorf("encode withdrawal: %w", err)
	}
	return data, nil
}

// recipient is the memo address, or withdraw when the memo carries none.
func recipient(b note.BurnRecord, withdraw common.Address) common.Address {
	if addr := b.Address(); addr != (common.Address{}) {
		return addr
	}
	return withdraw
}

func (r *Router) vouchers(burns []note.BurnRecord, withdraw common.Address) ([]rollup.Voucher, error) {
	vouchers := make([]rollup.Voucher, 0, len(burns))
	for _, b := range burns {
		payload, err := EncodeWithdrawal(recipient(b, withdraw), b.Amount)
		if err != nil {
			return nil, err
		}
		vouchers = append(vouchers, rollup.Voucher{Destination: r.cfg.Bridge, Payload: payload})
	}
	return vouchers, nil
}
