package types

import (
	"encoding/binary"
	"fmt"
)

// SighashAll is the only hash type accepted for transparent signatures.
const SighashAll = 0x01

func txHashPersonalization(branchID uint32) []byte {
	p := Personalization("ZcashTxHash_")
	binary.LittleEndian.PutUint32(p[12:], branchID)
	return p
}

// TxID implements the ZIP-244 transaction identifier.
func (tx *Transaction) TxID() Hash {
	header := tx.headerDigest()
	transparent := tx.transparentDigest()
	sapling := Blake2b256(Personalization("ZTxIdSaplingHash"))
	orchard := tx.orchardDigest()
	return Blake2b256(txHashPersonalization(tx.ConsensusBranchID), header[:], transparent[:], sapling[:], orchard[:])
}

func (tx *Transaction) headerDigest() Hash {
	buf := make([]byte, 0, 20)
	buf = appendUint32LE(buf, tx.Version)
	buf = appendUint32LE(buf, tx.VersionGroupID)
	buf = appendUint32LE(buf, tx.ConsensusBranchID)
	buf = appendUint32LE(buf, tx.LockTime)
	buf = appendUint32LE(buf, tx.ExpiryHeight)
	return Blake2b256(Personalization("ZTxIdHeadersHash"), buf)
}

func (tx *Transaction) transparentDigest() Hash {
	if len(tx.Inputs) == 0 && len(tx.Outputs) == 0 {
		return Blake2b256(Personalization("ZTxIdTranspaHash"))
	}
	prevouts := hashPrevouts(tx.Inputs)
	sequence := hashSequence(tx.Inputs)
	outputs := hashOutputs(tx.Outputs)
	return Blake2b256(Personalization("ZTxIdTranspaHash"), prevouts[:], sequence[:], outputs[:])
}

func hashPrevouts(inputs []TxIn) Hash {
	buf := make([]byte, 0, len(inputs)*36)
	for _, input := range inputs {
		buf = append(buf, input.PrevOut.TxID[:]...)
		buf = appendUint32LE(buf, input.PrevOut.Index)
	}
	return Blake2b256(Personalization("ZTxIdPrevoutHash"), buf)
}

func hashSequence(inputs []TxIn) Hash {
	buf := make([]byte, 0, len(inputs)*4)
	for _, input := range inputs {
		buf = appendUint32LE(buf, input.Sequence)
	}
	return Blake2b256(Personalization("ZTxIdSequencHash"), buf)
}

func hashOutputs(outputs []TxOut) Hash {
	buf := make([]byte, 0, len(outputs)*40)
	for _, output := range outputs {
		buf = appendUint64LE(buf, output.Value)
		buf = appendVarBytes(buf, output.Script)
	}
	return Blake2b256(Personalization("ZTxIdOutputsHash"), buf)
}

func (tx *Transaction) orchardDigest() Hash {
	actions := tx.Actions()
	if len(actions) == 0 {
		return Blake2b256(Personalization("ZTxIdOrchardHash"))
	}
	var compact, memos, noncompact []byte
	for i := range actions {
		a := &actions[i]
		compact = append(compact, a.Nullifier[:]...)
		compact = append(compact, a.CMX[:]...)
		compact = append(compact, a.EphemeralKey[:]...)
		compact = append(compact, a.EncCiphertext[:52]...)

		memos = append(memos, a.EncCiphertext[52:564]...)

		noncompact = append(noncompact, a.CV[:]...)
		noncompact = append(noncompact, a.RK[:]...)
		noncompact = append(noncompact, a.EncCiphertext[564:]...)
		noncompact = append(noncompact, a.OutCiphertext[:]...)
	}
	c := Blake2b256(Personalization("ZTxIdOrcActCHash"), compact)
	m := Blake2b256(Personalization("ZTxIdOrcActMHash"), memos)
	n := Blake2b256(Personalization("ZTxIdOrcActNHash"), noncompact)

	b := tx.Orchard
	tail := make([]byte, 0, 41)
	tail = append(tail, b.Flags)
	tail = appendUint64LE(tail, uint64(b.ValueBalance))
	tail = append(tail, b.Anchor[:]...)
	return Blake2b256(Personalization("ZTxIdOrchardHash"), c[:], m[:], n[:], tail)
}

// SignatureHash implements the ZIP-244 transparent signature digest for input
// inputIdx. prevOuts holds the resolved previous output of every input, in
// input order.
func (tx *Transaction) SignatureHash(inputIdx int, hashType byte, prevOuts []TxOut) (Hash, error) {
	if inputIdx < 0 || inputIdx >= len(tx.Inputs) {
		return Hash{}, fmt.Errorf("invalid input index: %d", inputIdx)
	}
	if hashType != SighashAll {
		return Hash{}, fmt.Errorf("unsupported sighash type: 0x%02x", hashType)
	}
	if len(prevOuts) != len(tx.Inputs) {
		return Hash{}, fmt.Errorf("have %d previous outputs for %d inputs", len(prevOuts), len(tx.Inputs))
	}
	txin := tx.txInSigDigest(inputIdx, prevOuts[inputIdx])
	return tx.signatureDigest(hashType, prevOuts, txin[:]), nil
}

// ShieldedSighash is the digest the Orchard proof, spend authorization and
// binding signatures commit to: the signature digest with no transparent input selected.
func (tx *Transaction) ShieldedSighash(prevOuts []TxOut) (Hash, error) {
	if len(tx.Inputs) == 0 {
		return tx.TxID(), nil
	}
	if len(prevOuts) != len(tx.Inputs) {
		return Hash{}, fmt.Errorf("have %d previous outputs for %d inputs", len(prevOuts), len(tx.Inputs))
	}
	empty := Blake2b256(Personalization("Zcash___TxInHash"))
	return tx.signatureDigest(SighashAll, prevOuts, empty[:]), nil
}

func (tx *Transaction) signatureDigest(hashType byte, prevOuts []TxOut, txinDigest []byte) Hash {
	prevouts := hashPrevouts(tx.Inputs)
	amounts := hashAmounts(prevOuts)
	scripts := hashScriptPubKeys(prevOuts)
	sequence := hashSequence(tx.Inputs)
	outputs := hashOutputs(tx.Outputs)
	transparent := Blake2b256(Personalization("ZTxIdTranspaHash"),
		[]byte{hashType}, prevouts[:], amounts[:], scripts[:], sequence[:], outputs[:], txinDigest)

	header := tx.headerDigest()
	sapling := Blake2b256(Personalization("ZTxIdSaplingHash"))
	orchard := tx.orchardDigest()
	return Blake2b256(txHashPersonalization(tx.ConsensusBranchID), header[:], transparent[:], sapling[:], orchard[:])
}

func hashAmounts(prevOuts []TxOut) Hash {
	buf := make([]byte, 0, len(prevOuts)*8)
	for _, out := range prevOuts {
		buf = appendUint64LE(buf, out.Value)
	}
	return Blake2b256(Personalization("ZTxTrAmountsHash"), buf)
}

func hashScriptPubKeys(prevOuts []TxOut) Hash {
	var buf []byte
	for _, out := range prevOuts {
		buf = appendVarBytes(buf, out.Script)
	}
	return Blake2b256(Personalization("ZTxTrScriptsHash"), buf)
}

func (tx *Transaction) txInSigDigest(inputIdx int, prevOut TxOut) Hash {
	input := tx.Inputs[inputIdx]
	buf := make([]byte, 0, 36+8+len(prevOut.Script)+8)
	buf = append(buf, input.PrevOut.TxID[:]...)
	buf = appendUint32LE(buf, input.PrevOut.Index)
	buf = appendUint64LE(buf, prevOut.Value)
	buf = appendVarBytes(buf, prevOut.Script)
	buf = appendUint32LE(buf, input.Sequence)
	return Blake2b256(Personalization("Zcash___TxInHash"), buf)
}
