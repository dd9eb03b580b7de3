package encryption

import (
	"crypto/cipher"

	"github.com/secure-encrypt-go/internal/cipherkit"
	apperrors "github.com/secure-encrypt-go/internal/errors"
	"github.com/secure-encrypt-go/internal/streamio"
)

// padBatchSize is the preferred keystream batch length in bytes
const padBatchSize = 4096

// ctrTransformer generates the keystream pad for any byte position and XORs
// it into data in place. The pad for block k is the block-cipher encryption
// of the counter block for k; pads are produced padBatchSize bytes at a
// time and cached with their block range.
type ctrTransformer struct {
	block      cipher.Block
	iv         []byte
	seed       []byte
	pad        []byte
	counters   []byte
	startBlock int64
	endBlock   int64
	blockSize  int
}

// newCTRTransformer keys the cipher and prepares the counter seed block.
// The seed holds the first min(len(nonce), 8) nonce bytes; the rest is zero.
// The IV is derived from SHA(nonce || salt) for the cipher transform object;
// a pure ECB keystream never consults it.
func newCTRTransformer(f *cipherkit.Factory, key, nonce, salt []byte) (*ctrTransformer, error) {
	block, err := f.NewCipher(key)
	if err != nil {
		return nil, err
	}

	blockSize := f.BlockSize()
	seed := make([]byte, blockSize)
	prefix := len(nonce)
	if prefix > 8 {
		prefix = 8
	}
	copy(seed, nonce[:prefix])

	h := f.NewHash()
	h.Write(nonce)
	h.Write(salt)
	iv := make([]byte, blockSize)
	streamio.Fill(iv, h.Sum(nil))

	return &ctrTransformer{
		block:      block,
		iv:         iv,
		seed:       seed,
		blockSize:  blockSize,
		startBlock: -1,
		endBlock:   -1,
	}, nil
}

// XORKeyStream XORs the keystream starting at byte position pos into data
// in place. Applying it twice at the same position restores the original
// bytes, and disjoint ranges transform independently of access order.
func (t *ctrTransformer) XORKeyStream(pos int64, data []byte) error {
	if pos < 0 {
		return apperrors.NewArgumentf("position must not be negative, got %d", pos)
	}
	bs := int64(t.blockSize)
	for len(data) > 0 {
		blockNumber := pos / bs
		if blockNumber < t.startBlock || blockNumber >= t.endBlock {
			t.fillBatch(blockNumber)
		}
		// startBlock is batch-aligned, so the in-pad offset is pos mod batch
		xorIndex := int(pos - t.startBlock*bs)
		n := len(t.pad) - xorIndex
		if n > len(data) {
			n = len(data)
		}
		for i := 0; i < n; i++ {
			data[i] ^= t.pad[xorIndex+i]
		}
		pos += int64(n)
		data = data[n:]
	}
	return nil
}

// fillBatch recomputes the cached pad so it covers blockNumber. Counter
// blocks are the seed with the 1-based block counter XORed in big-endian
// from the last byte backwards.
func (t *ctrTransformer) fillBatch(blockNumber int64) {
	blocksPerBatch := int64(padBatchSize / t.blockSize)
	if t.pad == nil {
		t.pad = make([]byte, padBatchSize)
		t.counters = make([]byte, padBatchSize)
	}

	start := blockNumber / blocksPerBatch * blocksPerBatch
	for i := int64(0); i < blocksPerBatch; i++ {
		blk := t.counters[int(i)*t.blockSize : (int(i)+1)*t.blockSize]
		copy(blk, t.seed)
		// Counters wider than the block silently truncate; files that large
		// are out of contract.
		counter := uint64(start + i + 1)
		for j := len(blk) - 1; j >= 0 && counter != 0; j-- {
			blk[j] ^= byte(counter)
			counter >>= 8
		}
	}
	for off := 0; off < padBatchSize; off += t.blockSize {
		t.block.Encrypt(t.pad[off:], t.counters[off:])
	}
	t.startBlock = start
	t.endBlock = start + blocksPerBatch
}

// Close zeroes the cached pad and counter material
func (t *ctrTransformer) Close() {
	zero(t.pad)
	zero(t.counters)
	zero(t.seed)
	zero(t.iv)
	t.pad = nil
	t.counters = nil
	t.startBlock = -1
	t.endBlock = -1
	t.block = nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
