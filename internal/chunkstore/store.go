package chunkstore

import (
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v3"

	"github.com/meshweave/corestore/internal/errs"
)

const (
	chunkKeyPrefix      = "chunk:"
	contentMapKeyPrefix = "content_map:"

	// DefaultChunkSize is the chunk size used when Config.ChunkSize is
	// left at zero.
	DefaultChunkSize = 262144
)

// Config holds ChunkStore construction parameters.
type Config struct {
	ChunkSize int
	Path      string
}

func DefaultConfig(path string) Config {
	return Config{ChunkSize: DefaultChunkSize, Path: path}
}

// contentEntry is the in-memory and (serialized) persisted form of a
// content mapping: an optional salt used for key derivation plus the
// ordered chunk hash list.
type contentEntry struct {
	salt   []byte
	hashes []string
}

// Store is the content-addressed, compressed, optionally encrypted
// chunk store backed by an embedded ordered key/value database.
type Store struct {
	mu        sync.RWMutex
	chunkSize int
	db        *badger.DB
	logger    *slog.Logger

	chunks      map[string]*Chunk
	contentMaps map[string]*contentEntry
}

// Open creates or opens the backing store at cfg.Path.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "failed to open backing store", err)
	}
	return &Store{
		chunkSize:   chunkSize,
		db:          db,
		logger:      logger.With("component", "chunkstore"),
		chunks:      make(map[string]*Chunk),
		contentMaps: make(map[string]*contentEntry),
	}, nil
}

// Close flushes and closes the backing store.
func (s *Store) Close() error {
	return s.FlushToDisk()
}

// FlushToDisk forces a durable flush of the backing store and then
// closes it; the Store cannot be used afterwards. It is best-effort on
// shutdown per the error handling design.
func (s *Store) FlushToDisk() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.db.Sync(); err != nil {
		return errs.Wrap(errs.StorageFailure, "flush failed", err)
	}
	return s.db.Close()
}

// StorePayload splits payload into chunk_size slices, compresses and
// optionally encrypts each, persists them content-addressed, and
// records the ordered chunk hash list under contentID.
func (s *Store) StorePayload(payload []byte, contentID string, encrypt bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	salt, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	var key []byte
	if encrypt {
		key, err = deriveKey(contentID, salt)
		if err != nil {
			return nil, err
		}
	}

	hashes := make([]string, 0, len(payload)/s.chunkSize+1)
	for offset := 0; offset < len(payload); offset += s.chunkSize {
		end := offset + s.chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		plaintext := payload[offset:end]

		compressed, err := compress(plaintext)
		if err != nil {
			return nil, err
		}

		c := &Chunk{
			OriginalSize: int64(len(plaintext)),
			Index:        int64(offset / s.chunkSize),
			IsEncrypted:  encrypt,
		}
		if encrypt {
			ciphertext, iv, tag, err := aesGCMEncrypt(compressed, key)
			if err != nil {
				return nil, err
			}
			c.Data, c.IV, c.Tag = ciphertext, iv, tag
		} else {
			c.Data = compressed
		}
		c.Hash = sha256Hex(c.Data)

		if err := s.persistChunk(c); err != nil {
			return nil, err
		}
		s.chunks[c.Hash] = c
		hashes = append(hashes, c.Hash)
	}

	entry := &contentEntry{salt: salt, hashes: hashes}
	if err := s.persistContentMap(contentID, entry); err != nil {
		return nil, err
	}
	s.contentMaps[contentID] = entry

	s.logger.Info("stored content", "content_id", contentID, "chunks", len(hashes), "encrypted", encrypt)
	return hashes, nil
}

// RetrievePayload reconstructs the original payload for contentID.
func (s *Store) RetrievePayload(contentID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, err := s.resolveContentEntry(contentID)
	if err != nil {
		return nil, err
	}

	var key []byte
	out := make([]byte, 0)
	for _, hash := range entry.hashes {
		c, err := s.loadChunk(hash)
		if err != nil {
			return nil, err
		}

		var compressed []byte
		if c.IsEncrypted {
			if key == nil {
				key, err = deriveKey(contentID, entry.salt)
				if err != nil {
					return nil, err
				}
			}
			compressed, err = aesGCMDecrypt(c.Data, key, c.IV, c.Tag)
			if err != nil {
				return nil, errs.ErrIntegrity(c.Hash, err)
			}
		} else {
			compressed = c.Data
		}

		plaintext, err := decompress(compressed, c.OriginalSize)
		if err != nil {
			return nil, err
		}
		out = append(out, plaintext...)
	}
	return out, nil
}

// GetChunk returns the in-memory chunk for hash, if present.
func (s *Store) GetChunk(hash string) (*Chunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[hash]
	return c, ok
}

// StoreChunk inserts and persists a prefabricated chunk received from
// a peer.
func (s *Store) StoreChunk(c *Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistChunk(c); err != nil {
		return err
	}
	s.chunks[c.Hash] = c
	return nil
}

// GetContentAddress returns the SHA-256 of the concatenation of
// contentID's chunk hashes: a stable content root.
func (s *Store) GetContentAddress(contentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, err := s.resolveContentEntryLocked(contentID)
	if err != nil {
		return "", err
	}
	return sha256Hex([]byte(strings.Join(entry.hashes, ""))), nil
}

// ListChunks returns the ordered chunk hash list for contentID.
func (s *Store) ListChunks(contentID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, err := s.resolveContentEntryLocked(contentID)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(entry.hashes))
	copy(out, entry.hashes)
	return out, nil
}

func (s *Store) resolveContentEntry(contentID string) (*contentEntry, error) {
	if entry, ok := s.contentMaps[contentID]; ok {
		return entry, nil
	}
	entry, err := s.loadContentMapFromDisk(contentID)
	if err != nil {
		return nil, err
	}
	s.contentMaps[contentID] = entry
	return entry, nil
}

func (s *Store) resolveContentEntryLocked(contentID string) (*contentEntry, error) {
	if entry, ok := s.contentMaps[contentID]; ok {
		return entry, nil
	}
	return s.loadContentMapFromDisk(contentID)
}

func (s *Store) loadChunk(hash string) (*Chunk, error) {
	if c, ok := s.chunks[hash]; ok {
		return c, nil
	}
	c, err := s.loadChunkFromDisk(hash)
	if err != nil {
		return nil, err
	}
	s.chunks[hash] = c
	return c, nil
}

func (s *Store) persistChunk(c *Chunk) error {
	key := []byte(chunkKeyPrefix + c.Hash)
	record := encodeRecord(c)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, record)
	})
	if err != nil {
		return errs.Wrap(errs.StorageFailure, "persist chunk failed", err)
	}
	return nil
}

func (s *Store) loadChunkFromDisk(hash string) (*Chunk, error) {
	key := []byte(chunkKeyPrefix + hash)
	var record []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			record = append([]byte{}, val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, errs.ErrNotFound("chunk", hash)
	}
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "load chunk failed", err)
	}
	return decodeRecord(hash, record)
}

// persistContentMap writes "salt_hex ; hash1 ; hash2 ; ..." under
// content_map:<content_id>. Persisting the salt resolves the open
// question in the design notes: without it, encrypted retrieval could
// not survive a process restart.
func (s *Store) persistContentMap(contentID string, entry *contentEntry) error {
	key := []byte(contentMapKeyPrefix + contentID)
	parts := make([]string, 0, len(entry.hashes)+1)
	parts = append(parts, hex.EncodeToString(entry.salt))
	parts = append(parts, entry.hashes...)
	value := []byte(strings.Join(parts, ";"))
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return errs.Wrap(errs.StorageFailure, "persist content map failed", err)
	}
	return nil
}

func (s *Store) loadContentMapFromDisk(contentID string) (*contentEntry, error) {
	key := []byte(contentMapKeyPrefix + contentID)
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			raw = append([]byte{}, val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, errs.ErrNotFound("content", contentID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "load content map failed", err)
	}

	tokens := strings.Split(string(raw), ";")
	nonEmpty := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			nonEmpty = append(nonEmpty, t)
		}
	}
	if len(nonEmpty) == 0 {
		return nil, errs.New(errs.StorageFailure, "empty content map").WithContext("id", contentID)
	}
	salt, err := hex.DecodeString(nonEmpty[0])
	if err != nil {
		return nil, errs.Wrap(errs.StorageFailure, "malformed salt in content map", err)
	}
	return &contentEntry{salt: salt, hashes: nonEmpty[1:]}, nil
}
