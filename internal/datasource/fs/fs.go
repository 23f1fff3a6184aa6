// Package fs is the filesystem-backed query data source. Leaves are stored
// zstd-compressed in a badger database under Options.Path.
package fs

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"

	"github.com/romashka-btc/espresso-sequencer/internal/consensus"
	"github.com/romashka-btc/espresso-sequencer/internal/datasource"
)

// Options configures the filesystem backend.
type Options struct {
	// Path is the storage directory. It is created if missing.
	Path string `yaml:"path"`

	Logger *slog.Logger `yaml:"-"`
}

var (
	prefixLeaf  = []byte("leaf/")
	prefixTx    = []byte("tx/")
	keyHeight   = []byte("meta/height")
	errNoPath   = errors.New("fs: storage path is required")
	valueLogMax = int64(100 << 20)
)

// DataSource stores decided leaves in badger. It is safe for concurrent use.
type DataSource struct { // A
	*datasource.MetricsDataSource

	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
	log *slog.Logger

	mu      sync.Mutex
	pending []consensus.Leaf
	height  uint64

	closeOnce sync.Once
}

// Create opens (or initializes) the store at opts.Path. With reset set any
// existing data is deleted first.
func Create(ctx context.Context, opts Options, reset bool) (*DataSource, error) { // A
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Path == "" {
		return nil, errNoPath
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dir := filepath.Join(opts.Path, "query")
	if reset {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("fs: reset %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("fs: create %s: %w", dir, err)
	}

	bopts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{log: opts.Logger}).
		WithValueLogFileSize(valueLogMax).
		WithSyncWrites(false)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("fs: open badger at %s: %w", dir, err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fs: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		_ = db.Close()
		return nil, fmt.Errorf("fs: zstd decoder: %w", err)
	}

	ds := &DataSource{
		MetricsDataSource: datasource.NewMetricsDataSource(),
		db:                db,
		enc:               enc,
		dec:               dec,
		log:               opts.Logger,
	}

	if err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyHeight)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt height record of %d bytes", len(val))
			}
			ds.height = binary.BigEndian.Uint64(val)
			return nil
		})
	}); err != nil {
		_ = ds.Close()
		return nil, fmt.Errorf("fs: load height: %w", err)
	}

	opts.Logger.Info("opened filesystem query storage", "path", dir, "blockHeight", ds.height)
	return ds, nil
}

// BlockHeight is one more than the highest committed leaf height.
func (ds *DataSource) BlockHeight(ctx context.Context) (uint64, error) { // A
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.height, nil
}

func (ds *DataSource) InsertLeaf(ctx context.Context, leaf consensus.Leaf) error { // A
	if err := ctx.Err(); err != nil {
		return err
	}
	ds.mu.Lock()
	ds.pending = append(ds.pending, leaf)
	ds.mu.Unlock()
	return nil
}

// Commit writes all pending leaves in one transaction.
func (ds *DataSource) Commit(ctx context.Context) error { // A
	if err := ctx.Err(); err != nil {
		return err
	}

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if len(ds.pending) == 0 {
		return nil
	}

	height := ds.height
	err := ds.db.Update(func(txn *badger.Txn) error {
		for _, leaf := range ds.pending {
			if err := txn.Set(leafKey(leaf.Height), ds.enc.EncodeAll(datasource.EncodeLeaf(leaf), nil)); err != nil {
				return err
			}
			for i, tx := range leaf.Block.Transactions {
				hash := tx.Commit()
				loc := make([]byte, 12)
				binary.BigEndian.PutUint64(loc[:8], leaf.Height)
				binary.BigEndian.PutUint32(loc[8:], uint32(i))
				if err := txn.Set(txKey(hash), loc); err != nil {
					return err
				}
			}
			if leaf.Height+1 > height {
				height = leaf.Height + 1
			}
		}
		var h [8]byte
		binary.BigEndian.PutUint64(h[:], height)
		return txn.Set(keyHeight, h[:])
	})
	if err != nil {
		return fmt.Errorf("fs: commit %d leaves: %w", len(ds.pending), err)
	}

	ds.pending = ds.pending[:0]
	ds.height = height
	return nil
}

func (ds *DataSource) GetLeaf(ctx context.Context, height uint64) (consensus.Leaf, error) { // A
	if err := ctx.Err(); err != nil {
		return consensus.Leaf{}, err
	}

	var leaf consensus.Leaf
	err := ds.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(leafKey(height))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return datasource.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw, err := ds.dec.DecodeAll(val, nil)
			if err != nil {
				return fmt.Errorf("decompress leaf %d: %w", height, err)
			}
			leaf, err = datasource.DecodeLeaf(raw)
			return err
		})
	})
	if err != nil {
		return consensus.Leaf{}, err
	}
	return leaf, nil
}

func (ds *DataSource) GetTransaction(
	ctx context.Context,
	hash consensus.Commitment,
) (datasource.TransactionQueryData, error) { // A
	if err := ctx.Err(); err != nil {
		return datasource.TransactionQueryData{}, err
	}

	var height uint64
	var index uint32
	err := ds.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(txKey(hash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return datasource.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 12 {
				return fmt.Errorf("corrupt transaction index for %s", hash)
			}
			height = binary.BigEndian.Uint64(val[:8])
			index = binary.BigEndian.Uint32(val[8:])
			return nil
		})
	})
	if err != nil {
		return datasource.TransactionQueryData{}, err
	}

	leaf, err := ds.GetLeaf(ctx, height)
	if err != nil {
		return datasource.TransactionQueryData{}, err
	}
	if int(index) >= len(leaf.Block.Transactions) {
		return datasource.TransactionQueryData{}, fmt.Errorf(
			"fs: transaction %s points past block %d", hash, height)
	}

	return datasource.TransactionQueryData{
		Transaction: leaf.Block.Transactions[index],
		Hash:        hash,
		Height:      height,
		Index:       index,
	}, nil
}

// Close releases the badger database. It is idempotent.
func (ds *DataSource) Close() error { // A
	var err error
	ds.closeOnce.Do(func() {
		ds.enc.Close()
		ds.dec.Close()
		err = ds.db.Close()
	})
	return err
}

func leafKey(height uint64) []byte {
	k := make([]byte, len(prefixLeaf)+8)
	copy(k, prefixLeaf)
	binary.BigEndian.PutUint64(k[len(prefixLeaf):], height)
	return k
}

func txKey(hash consensus.Commitment) []byte {
	k := make([]byte, 0, len(prefixTx)+len(hash))
	k = append(k, prefixTx...)
	return append(k, hash[:]...)
}

var _ datasource.QueryDataSource = (*DataSource)(nil)
