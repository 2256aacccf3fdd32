package storage

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	log "github.com/colorfulnotion/cartezcash/log"
	"github.com/colorfulnotion/cartezcash/types"
	"github.com/ethereum/go-ethereum/common"
)

// Snapshot files are gzip streams of the whole chain:
//
//	magic(8) || numBlocks:4 || tipHash:32 || (len:4 || block)*
var snapshotMagic = []byte("czchain1")

const maxSnapshotBlock = 64 << 20

// SnapshotMetadata describes a chain snapshot.
type SnapshotMetadata struct {
	NumBlocks uint32
	Height    uint32
	Tip       common.Hash
}

// ExportSnapshot writes every stored block to a gzip snapshot at outputPath.
func ExportSnapshot(store Store, outputPath string) (*SnapshotMetadata, error) {
	height, tip, ok, err := store.Tip()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("export snapshot: %w: empty chain", ErrNotFound)
	}
	meta := &SnapshotMetadata{NumBlocks: height + 1, Height: height, Tip: tip}

	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()
	gz := gzip.NewWriter(f)

	header := append([]byte(nil), snapshotMagic...)
	header = binary.BigEndian.AppendUint32(header, meta.NumBlocks)
	header = append(header, tip[:]...)
	if _, err := gz.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	var size int
	err = store.ForEachBlock(func(h uint32, block *types.Block) error {
		raw := block.Bytes()
		size += len(raw)
		if _, err := gz.Write(binary.BigEndian.AppendUint32(nil, uint32(len(raw)))); err != nil {
			return err
		}
		_, err := gz.Write(raw)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush snapshot: %w", err)
	}

	log.Info(log.Store, "Exported snapshot",
		"height", height,
		"tip", tip,
		"size_bytes", size,
		"path", outputPath)
	return meta, nil
}

// LoadSnapshot reads a snapshot and checks that its blocks form a chain
// ending in the recorded tip.
func LoadSnapshot(snapshotPath string) (*SnapshotMetadata, []*types.Block, error) {
	f, err := os.Open(snapshotPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	defer gz.Close()
	r := bufio.NewReader(gz)

	header := make([]byte, len(snapshotMagic)+4+32)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if !bytes.Equal(header[:len(snapshotMagic)], snapshotMagic) {
		return nil, nil, fmt.Errorf("not a chain snapshot")
	}
	meta := &SnapshotMetadata{
		NumBlocks: binary.BigEndian.Uint32(header[len(snapshotMagic):]),
		Tip:       common.BytesToHash(header[len(snapshotMagic)+4:]),
	}
	if meta.NumBlocks == 0 {
		return nil, nil, fmt.Errorf("snapshot has no blocks")
	}
	meta.Height = meta.NumBlocks - 1

	blocks := make([]*types.Block, 0, meta.NumBlocks)
	var prev common.Hash
	for i := uint32(0); i < meta.NumBlocks; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, nil, fmt.Errorf("snapshot truncated at block %d: %w", i, err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > maxSnapshotBlock {
			return nil, nil, fmt.Errorf("snapshot block %d too large: %d bytes", i, n)
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, nil, fmt.Errorf("snapshot truncated at block %d: %w", i, err)
		}
		block, err := types.ParseBlock(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("snapshot block %d: %w", i, err)
		}
		if block.Header.PrevHash != prev {
			return nil, nil, fmt.Errorf("snapshot block %d does not extend %s", i, prev)
		}
		prev = block.Hash()
		blocks = append(blocks, block)
	}
	if _, err := r.ReadByte(); err != io.EOF {
		return nil, nil, fmt.Errorf("trailing data after %d snapshot blocks", meta.NumBlocks)
	}
	if prev != meta.Tip {
		return nil, nil, fmt.Errorf("snapshot tip mismatch: expected %s, got %s", meta.Tip, prev)
	}
	return meta, blocks, nil
}

// ImportSnapshot loads a snapshot into an empty store. apply is called for
// every block in order and returns the tree state to store with it.
func ImportSnapshot(store Store, snapshotPath string, apply func(height uint32, block *types.Block) ([]byte, error)) (*SnapshotMetadata, error) {
	if _, _, ok, err := store.Tip(); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("import snapshot: store is not empty")
	}
	meta, blocks, err := LoadSnapshot(snapshotPath)
	if err != nil {
		return nil, err
	}
	for h, block := range blocks {
		treeState, err := apply(uint32(h), block)
		if err != nil {
			return nil, fmt.Errorf("import block %d: %w", h, err)
		}
		if err := store.CommitBlock(uint32(h), block, treeState); err != nil {
			return nil, err
		}
		if h%100 == 0 && h > 0 {
			log.Info(log.Store, "Import progress", "height", h, "remaining", len(blocks)-1-h)
		}
	}
	log.Info(log.Store, "Imported snapshot", "height", meta.Height, "tip", meta.Tip, "path", snapshotPath)
	return meta, nil
}
