package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Zcash v5 (NU5) transaction constants
const (
	TxVersionNU5       = 5
	TxVersionGroupNU5  = 0x26A7270A
	ConsensusBranchNU5 = 0xC2D6D0B4 // NU5 mainnet

	// CoinbaseIndex is the prevout index of a coinbase input.
	CoinbaseIndex = 0xFFFFFFFF
	// FinalSequence disables locktime for an input.
	FinalSequence = 0xFFFFFFFF

	MaxInputs  = 1000
	MaxOutputs = 1000
	MaxActions = 1000
	MaxScript  = 10000

	// MaxMoney is the total zatoshi supply cap (21M coins).
	MaxMoney = 21_000_000 * 100_000_000
)

// Orchard action field sizes (ZIP-225).
const (
	EncCiphertextSize = 580
	OutCiphertextSize = 80
	SignatureSize     = 64
)

// Orchard flags
const (
	OrchardFlagSpendsEnabled  = 0x01
	OrchardFlagOutputsEnabled = 0x02
)

// TxIn is a transparent input
type TxIn struct {
	PrevOut   OutPoint
	ScriptSig []byte
	Sequence  uint32
}

// IsCoinbase returns true if input is a coinbase input
func (in *TxIn) IsCoinbase() bool {
	return in.PrevOut.TxID == (Hash{}) && in.PrevOut.Index == CoinbaseIndex
}

// TxOut is a transparent output
type TxOut struct {
	Value  uint64 // Zatoshis
	Script []byte
}

// Action is one Orchard action: it spends the note behind Nullifier and
// creates the note committed to by CMX.
type Action struct {
	CV            [32]byte
	Nullifier     Nullifier
	RK            [32]byte
	CMX           Hash
	EphemeralKey  [32]byte
	EncCiphertext [EncCiphertextSize]byte
	OutCiphertext [OutCiphertextSize]byte
}

// OrchardBundle is the shielded part of a v5 transaction.
type OrchardBundle struct {
	Actions       []Action
	Flags         byte
	ValueBalance  int64 // net value leaving the shielded pool, in zatoshis
	Anchor        Hash
	Proof         []byte
	SpendAuthSigs [][SignatureSize]byte
	BindingSig    [SignatureSize]byte
}

// Transaction is a Zcash v5 transaction. Sapling components are always empty.
type Transaction struct {
	Version           uint32
	VersionGroupID    uint32
	ConsensusBranchID uint32
	LockTime          uint32
	ExpiryHeight      uint32

	Inputs  []TxIn
	Outputs []TxOut

	// Orchard is nil when the transaction carries no actions.
	Orchard *OrchardBundle
}

// NewTransaction returns an empty NU5 transaction.
func NewTransaction() *Transaction {
	return &Transaction{
		Version:           TxVersionNU5,
		VersionGroupID:    TxVersionGroupNU5,
		ConsensusBranchID: ConsensusBranchNU5,
	}
}

// IsCoinbase reports whether tx has the single null-prevout input of a coinbase.
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].IsCoinbase()
}

// Actions returns the Orchard actions, or nil.
func (tx *Transaction) Actions() []Action {
	if tx.Orchard == nil {
		return nil
	}
	return tx.Orchard.Actions
}

// Nullifiers returns the nullifiers revealed by the Orchard actions.
func (tx *Transaction) Nullifiers() []Nullifier {
	actions := tx.Actions()
	out := make([]Nullifier, len(actions))
	for i := range actions {
		out[i] = actions[i].Nullifier
	}
	return out
}

// NoteCommitments returns the extracted note commitments in action order.
func (tx *Transaction) NoteCommitments() []Hash {
	actions := tx.Actions()
	out := make([]Hash, len(actions))
	for i := range actions {
		out[i] = actions[i].CMX
	}
	return out
}

// ParseTransaction parses a raw Zcash v5 (NU5) transaction. Trailing bytes are an error.
func ParseTransaction(raw []byte) (*Transaction, error) {
	r := bytes.NewReader(raw)
	tx, err := readTransaction(r)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after transaction", r.Len())
	}
	return tx, nil
}

func readTransaction(r io.Reader) (*Transaction, error) {
	tx := &Transaction{}

	header := []*uint32{&tx.Version, &tx.VersionGroupID, &tx.ConsensusBranchID, &tx.LockTime, &tx.ExpiryHeight}
	names := []string{"version", "version group ID", "consensus branch ID", "locktime", "expiry height"}
	for i, field := range header {
		if err := binary.Read(r, binary.LittleEndian, field); err != nil {
			return nil, fmt.Errorf("read %s: %w", names[i], err)
		}
	}
	if tx.Version != TxVersionNU5 {
		return nil, fmt.Errorf("not a v5 transaction: version=%d", tx.Version)
	}
	if tx.VersionGroupID != TxVersionGroupNU5 {
		return nil, fmt.Errorf("invalid v5 version group: 0x%08x", tx.VersionGroupID)
	}

	// Transparent inputs
	vinCount, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("read vin count: %w", err)
	}
	if vinCount > MaxInputs {
		return nil, fmt.Errorf("too many inputs: %d > %d", vinCount, MaxInputs)
	}
	tx.Inputs = make([]TxIn, vinCount)
	for i := range tx.Inputs {
		if err := readInput(r, &tx.Inputs[i]); err != nil {
			return nil, fmt.Errorf("read input %d: %w", i, err)
		}
	}

	// Transparent outputs
	voutCount, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("read vout count: %w", err)
	}
	if voutCount > MaxOutputs {
		return nil, fmt.Errorf("too many outputs: %d > %d", voutCount, MaxOutputs)
	}
	tx.Outputs = make([]TxOut, voutCount)
	for i := range tx.Outputs {
		if err := readOutput(r, &tx.Outputs[i]); err != nil {
			return nil, fmt.Errorf("read output %d: %w", i, err)
		}
	}

	// Sapling spends and outputs
	for _, what := range []string{"sapling spends", "sapling outputs"} {
		n, err := readVarInt(r)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", what, err)
		}
		if n > 0 {
			return nil, fmt.Errorf("%s not supported", what)
		}
	}

	// Orchard actions
	nActions, err := readVarInt(r)
	if err != nil {
		return nil, fmt.Errorf("read orchard actions: %w", err)
	}
	if nActions > MaxActions {
		return nil, fmt.Errorf("too many orchard actions: %d > %d", nActions, MaxActions)
	}
	if nActions > 0 {
		bundle, err := readOrchardBundle(r, int(nActions))
		if err != nil {
			return nil, fmt.Errorf("read orchard bundle: %w", err)
		}
		tx.Orchard = bundle
	}
	return tx, nil
}

func readInput(r io.Reader, input *TxIn) error {
	if _, err := io.ReadFull(r, input.PrevOut.TxID[:]); err != nil {
		return fmt.Errorf("read prevout hash: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &input.PrevOut.Index); err != nil {
		return fmt.Errorf("read prevout index: %w", err)
	}
	scriptSig, err := readVarBytes(r, MaxScript)
	if err != nil {
		return fmt.Errorf("read scriptSig: %w", err)
	}
	input.ScriptSig = scriptSig
	if err := binary.Read(r, binary.LittleEndian, &input.Sequence); err != nil {
		return fmt.Errorf("read sequence: %w", err)
	}
	return nil
}

func readOutput(r io.Reader, output *TxOut) error {
	if err := binary.Read(r, binary.LittleEndian, &output.Value); err != nil {
		return fmt.Errorf("read value: %w", err)
	}
	if output.Value > MaxMoney {
		return fmt.Errorf("output value %d exceeds max money", output.Value)
	}
	script, err := readVarBytes(r, MaxScript)
	if err != nil {
		return fmt.Errorf("read scriptPubKey: %w", err)
	}
	output.Script = script
	return nil
}

func readOrchardBundle(r io.Reader, n int) (*OrchardBundle, error) {
	b := &OrchardBundle{Actions: make([]Action, n)}
	for i := range b.Actions {
		a := &b.Actions[i]
		for _, field := range [][]byte{a.CV[:], a.Nullifier[:], a.RK[:], a.CMX[:], a.EphemeralKey[:], a.EncCiphertext[:], a.OutCiphertext[:]} {
			if _, err := io.ReadFull(r, field); err != nil {
				return nil, fmt.Errorf("read action %d: %w", i, err)
			}
		}
	}
	var flags [1]byte
	if _, err := io.ReadFull(r, flags[:]); err != nil {
		return nil, fmt.Errorf("read flags: %w", err)
	}
	b.Flags = flags[0]
	if b.Flags&^(OrchardFlagSpendsEnabled|OrchardFlagOutputsEnabled) != 0 {
		return nil, fmt.Errorf("reserved orchard flag bits set: 0x%02x", b.Flags)
	}
	if err := binary.Read(r, binary.LittleEndian, &b.ValueBalance); err != nil {
		return nil, fmt.Errorf("read value balance: %w", err)
	}
	if b.ValueBalance > MaxMoney || b.ValueBalance < -MaxMoney {
		return nil, fmt.Errorf("value balance %d out of range", b.ValueBalance)
	}
	if _, err := io.ReadFull(r, b.Anchor[:]); err != nil {
		return nil, fmt.Errorf("read anchor: %w", err)
	}
	proof, err := readVarBytes(r, maxVarBytes)
	if err != nil {
		return nil, fmt.Errorf("read proof: %w", err)
	}
	b.Proof = proof
	b.SpendAuthSigs = make([][SignatureSize]byte, n)
	for i := range b.SpendAuthSigs {
		if _, err := io.ReadFull(r, b.SpendAuthSigs[i][:]); err != nil {
			return nil, fmt.Errorf("read spend auth sig %d: %w", i, err)
		}
	}
	if _, err := io.ReadFull(r, b.BindingSig[:]); err != nil {
		return nil, fmt.Errorf("read binding sig: %w", err)
	}
	return b, nil
}

// Bytes serializes tx in the v5 wire format.
func (tx *Transaction) Bytes() []byte {
	buf := make([]byte, 0, 256)
	buf = appendUint32LE(buf, tx.Version)
	buf = appendUint32LE(buf, tx.VersionGroupID)
	buf = appendUint32LE(buf, tx.ConsensusBranchID)
	buf = appendUint32LE(buf, tx.LockTime)
	buf = appendUint32LE(buf, tx.ExpiryHeight)

	buf = appendVarInt(buf, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = appendUint32LE(buf, in.PrevOut.Index)
		buf = appendVarBytes(buf, in.ScriptSig)
		buf = appendUint32LE(buf, in.Sequence)
	}
	buf = appendVarInt(buf, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf = appendUint64LE(buf, out.Value)
		buf = appendVarBytes(buf, out.Script)
	}

	// no sapling spends, no sapling outputs
	buf = append(buf, 0x00, 0x00)

	actions := tx.Actions()
	buf = appendVarInt(buf, uint64(len(actions)))
	if len(actions) == 0 {
		return buf
	}
	b := tx.Orchard
	for i := range actions {
		a := &actions[i]
		buf = append(buf, a.CV[:]...)
		buf = append(buf, a.Nullifier[:]...)
		buf = append(buf, a.RK[:]...)
		buf = append(buf, a.CMX[:]...)
		buf = append(buf, a.EphemeralKey[:]...)
		buf = append(buf, a.EncCiphertext[:]...)
		buf = append(buf, a.OutCiphertext[:]...)
	}
	buf = append(buf, b.Flags)
	buf = appendUint64LE(buf, uint64(b.ValueBalance))
	buf = append(buf, b.Anchor[:]...)
	buf = appendVarBytes(buf, b.Proof)
	for i := range actions {
		var sig [SignatureSize]byte
		if i < len(b.SpendAuthSigs) {
			sig = b.SpendAuthSigs[i]
		}
		buf = append(buf, sig[:]...)
	}
	buf = append(buf, b.BindingSig[:]...)
	return buf
}
