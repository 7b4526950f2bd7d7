// Package wallet stores signing identities in an encrypted bbolt file and
// builds signed payments from them.
package wallet

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	"github.com/nats-io/nuid"
	"go.etcd.io/bbolt"

	"powledger/blockchain"
)

var (
	bucketMeta       = []byte("meta")
	bucketIdentities = []byte("identities")

	keyID     = []byte("id")
	keySalt   = []byte("kdf_salt")
	keyParams = []byte("kdf_params")
	keyCheck  = []byte("check")
)

// passwordCheck is sealed at creation; opening it proves the password.
var passwordCheck = []byte("powledger-wallet")

// Identity is one signing key held by the wallet.
type Identity struct {
	*blockchain.KeySigner
	CreatedAt time.Time
}

type identityRecord struct {
	Address   string
	CreatedAt time.Time
	Sealed    []byte
}

// Keystore is an open wallet file. The derived key stays in memory until
// Close.
type Keystore struct {
	db  *bbolt.DB
	id  string
	key []byte
}

// Create initialises a new keystore at path. It fails with ErrWalletExists
// if the file already holds one.
func Create(path, password string, params KDFParams) (*Keystore, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, SaltLen)
	if _, err := rand.Read(salt); err != nil {
		db.Close()
		return nil, fmt.Errorf("wallet: failed to generate salt: %w", err)
	}
	key := deriveKey(password, salt, params)
	check, err := seal(key, passwordCheck)
	if err != nil {
		db.Close()
		return nil, err
	}
	encodedParams, err := encodeGob(params)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("wallet: encode kdf params: %w", err)
	}

	id := nuid.Next()
	err = db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta.Get(keyID) != nil {
			return ErrWalletExists
		}
		for k, v := range map[string][]byte{
			string(keyID):     []byte(id),
			string(keySalt):   salt,
			string(keyParams): encodedParams,
			string(keyCheck):  check,
		} {
			if err := meta.Put([]byte(k), v); err != nil {
				return fmt.Errorf("wallet: put %s: %w", k, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Keystore{db: db, id: id, key: key}, nil
}

// Open unlocks an existing keystore. A wrong password yields
// ErrDecryptionFailed.
func Open(path, password string) (*Keystore, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrWalletNotFound, path)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	var (
		id, salt, check []byte
		params          KDFParams
	)
	err = db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		id = bytes.Clone(meta.Get(keyID))
		if id == nil {
			return fmt.Errorf("%w: %s", ErrWalletNotFound, path)
		}
		salt = bytes.Clone(meta.Get(keySalt))
		check = bytes.Clone(meta.Get(keyCheck))
		return decodeGob(meta.Get(keyParams), &params)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	key := deriveKey(password, salt, params)
	plain, err := open(key, check)
	if err != nil || !bytes.Equal(plain, passwordCheck) {
		db.Close()
		return nil, ErrDecryptionFailed
	}
	return &Keystore{db: db, id: string(id), key: key}, nil
}

func openDB(path string) (*bbolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("wallet: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("wallet: open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketIdentities} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("wallet: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ID is the random identifier assigned at creation.
func (k *Keystore) ID() string { return k.id }

func (k *Keystore) Close() error {
	clear(k.key)
	return k.db.Close()
}

// NewIdentity generates a key, stores it encrypted and returns it.
func (k *Keystore) NewIdentity() (*Identity, error) {
	signer, err := blockchain.GenerateKeySigner()
	if err != nil {
		return nil, err
	}
	sealed, err := seal(k.key, signer.PrivateKey().Serialize())
	if err != nil {
		return nil, err
	}
	rec := identityRecord{
		Address:   signer.Address(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Sealed:    sealed,
	}
	data, err := encodeGob(rec)
	if err != nil {
		return nil, fmt.Errorf("wallet: encode identity: %w", err)
	}

	err = k.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketIdentities)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return nil, fmt.Errorf("wallet: put identity: %w", err)
	}
	return &Identity{KeySigner: signer, CreatedAt: rec.CreatedAt}, nil
}

// Identities returns every identity in creation order.
func (k *Keystore) Identities() ([]*Identity, error) {
	var out []*Identity
	err := k.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIdentities).ForEach(func(_, v []byte) error {
			id, err := k.unseal(v)
			if err != nil {
				return err
			}
			out = append(out, id)
			return nil
		})
	})
	return out, err
}

// Identity returns the identity owning address.
func (k *Keystore) Identity(address string) (*Identity, error) {
	ids, err := k.Identities()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if id.Address() == address {
			return id, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, address)
}

func (k *Keystore) unseal(data []byte) (*Identity, error) {
	var rec identityRecord
	if err := decodeGob(data, &rec); err != nil {
		return nil, fmt.Errorf("wallet: decode identity: %w", err)
	}
	raw, err := open(k.key, rec.Sealed)
	if err != nil {
		return nil, err
	}
	priv, _ := ec.PrivateKeyFromBytes(raw)
	signer := blockchain.NewKeySigner(priv)
	if signer.Address() != rec.Address {
		return nil, fmt.Errorf("%w: key does not match %s", ErrDecryptionFailed, rec.Address)
	}
	return &Identity{KeySigner: signer, CreatedAt: rec.CreatedAt}, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
