// Package media stores uploaded message attachments. Blobs live in a local
// Badger database keyed by an opaque reference; the declared media kind is
// checked against the sniffed content type before anything is written, so a
// stored reference always matches its kind tag.
package media

import (
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/onemessenger/relay/internal/protocol"
)

// ErrKindMismatch is returned when the payload's sniffed content type does
// not belong to the declared kind.
var ErrKindMismatch = fmt.Errorf("media: payload does not match declared kind")

// ErrNotFound is returned for references with no stored blob.
var ErrNotFound = badger.ErrKeyNotFound

// Store is the Badger-backed blob store.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the blob store at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is too chatty for this process
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("media: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens an ephemeral store, for tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("media: open in-memory: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put validates the payload against the declared kind, stores it, and
// returns the retrievable reference.
func (s *Store) Put(payload []byte, kind string) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("media: empty payload")
	}
	if err := checkKind(payload, kind); err != nil {
		return "", err
	}

	ref := uuid.New().String()
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blobKey(ref), payload); err != nil {
			return err
		}
		return txn.Set(kindKey(ref), []byte(kind))
	})
	if err != nil {
		return "", fmt.Errorf("media: store blob: %w", err)
	}
	return ref, nil
}

// Get returns the stored payload and its kind tag for a reference.
func (s *Store) Get(ref string) ([]byte, string, error) {
	var payload []byte
	var kind string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(ref))
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(kindKey(ref))
		if err != nil {
			return err
		}
		k, err := item.ValueCopy(nil)
		kind = string(k)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("media: load blob %s: %w", ref, err)
	}
	return payload, kind, nil
}

func blobKey(ref string) []byte { return []byte("blob:" + ref) }
func kindKey(ref string) []byte { return []byte("kind:" + ref) }

// checkKind sniffs the payload and verifies it belongs to the declared kind.
// KindFile accepts anything; the media kinds require a matching top-level
// content type.
func checkKind(payload []byte, kind string) error {
	switch kind {
	case protocol.KindFile:
		return nil
	case protocol.KindImage, protocol.KindAudio, protocol.KindVideo:
		mt := mimetype.Detect(payload)
		if strings.HasPrefix(mt.String(), kind+"/") {
			return nil
		}
		return fmt.Errorf("%w: declared %s, detected %s", ErrKindMismatch, kind, mt.String())
	default:
		return fmt.Errorf("media: unsupported kind %q", kind)
	}
}
