// Package chainstore persists the simulated blockchain to a bolt database,
// one bucket of height-keyed block records, so a long run's chain can be
// inspected (or a partial run resumed into analysis tooling) without
// re-simulating. The layout follows lnd channeldb's bucket-per-concern
// convention: big-endian keys so a cursor walks blocks in height order.
package chainstore

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/boltdb/bolt"

	"github.com/lightningnetwork/plasma-sim/internal/chain"
	"github.com/lightningnetwork/plasma-sim/internal/wire"
)

var (
	blockBucket = []byte("block-bucket")

	byteOrder = binary.BigEndian
)

// DB is an open chain store.
type DB struct {
	*bolt.DB
}

// Open creates (or opens) the chain store at path and ensures its bucket
// exists.
func Open(path string) (*DB, error) {
	bdb, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	err = bdb.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(blockBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, err
	}
	return &DB{DB: bdb}, nil
}

// PutBlocks writes every block, keyed by its height, in one transaction.
func (d *DB) PutBlocks(blocks []chain.Block) error {
	return d.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(blockBucket)
		for height, block := range blocks {
			var key [8]byte
			byteOrder.PutUint64(key[:], uint64(height))

			var body bytes.Buffer
			if err := serializeBlock(&body, &block); err != nil {
				return err
			}
			if err := bucket.Put(key[:], body.Bytes()); err != nil {
				return err
			}
		}
		return nil
	})
}

// FetchBlocks reads the whole chain back in height order.
func (d *DB) FetchBlocks() ([]chain.Block, error) {
	var blocks []chain.Block
	err := d.View(func(tx *bolt.Tx) error {
		return tx.Bucket(blockBucket).ForEach(func(_, v []byte) error {
			var b chain.Block
			if err := deserializeBlock(bytes.NewReader(v), &b); err != nil {
				return err
			}
			blocks = append(blocks, b)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

func serializeBlock(w io.Writer, b *chain.Block) error {
	if err := wire.WriteInt64(w, b.ConfirmationTime); err != nil {
		return err
	}
	if err := wire.WriteUint32(w, uint32(len(b.Transactions))); err != nil {
		return err
	}
	for i := range b.Transactions {
		if err := b.Transactions[i].Encode(w); err != nil {
			return err
		}
	}
	return nil
}

func deserializeBlock(r io.Reader, b *chain.Block) error {
	if err := wire.ReadInt64(r, &b.ConfirmationTime); err != nil {
		return err
	}
	var n uint32
	if err := wire.ReadUint32(r, &n); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	b.Transactions = make([]chain.Tx, n)
	for i := range b.Transactions {
		if err := b.Transactions[i].Decode(r); err != nil {
			return err
		}
	}
	return nil
}
