package note

import (
	"github.com/colorfulnotion/cartezcash/types"
	"github.com/ethereum/go-ethereum/common"
)

// burnIVK is derived from a public seed rather than from a spending key, so no
// spend authority for notes sent to it exists.
var burnIVK = IncomingViewingKey(types.Blake2b256(ivkPersonalization, []byte("cartezcash burn sink")))

// BurnIncomingViewingKey returns the fixed viewing key of the burn sink.
func BurnIncomingViewingKey() IncomingViewingKey {
	return burnIVK
}

// BurnAddress is the payment address wallets send to when withdrawing to the host chain.
func BurnAddress() Address {
	addr, err := burnIVK.Address([DiversifierSize]byte{})
	if err != nil {
		panic(err)
	}
	return addr
}

// BurnRecord is value destroyed in the shielded pool and owed on the host chain.
type BurnRecord struct {
	Amount uint64
	Memo   Memo
}

// Address returns the host-chain recipient carried in the memo.
func (b BurnRecord) Address() common.Address {
	return common.BytesToAddress(b.Memo[:common.AddressLength])
}

// ExtractBurns trial-decrypts every action with the burn viewing key and
// returns one record per action that decrypts. Actions that do not decrypt
// are not burns.
func ExtractBurns(actions []types.Action) []BurnRecord {
	var burns []BurnRecord
	for i := range actions {
		n, err := TryDecrypt(burnIVK, &actions[i])
		if err != nil {
			continue
		}
		burns = append(burns, BurnRecord{Amount: n.Value, Memo: n.Memo})
	}
	return burns
}
