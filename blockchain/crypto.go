package blockchain

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"
	bsvhash "github.com/bsv-blockchain/go-sdk/primitives/hash"
	"github.com/btcsuite/btcutil/base58"
)

const (
	// AddressPrefix is the version byte in front of every address payload
	AddressPrefix = 0x42

	addressHashLen     = 32
	addressChecksumLen = 4
)

var ErrInvalidAddress = errors.New("invalid address")

// Signer is the wallet side of signing. The core never sees key material
// beyond what a Signer exposes.
type Signer interface {
	Sign(message string) (string, error)
	PublicKey() []byte
	Address() string
}

// Hash returns the lowercase hex SHA-256 of plain.
func Hash(plain string) string {
	return hex.EncodeToString(bsvhash.Sha256([]byte(plain)))
}

// Sign signs the SHA-256 digest of message and returns the DER signature as hex.
func Sign(message string, key *ec.PrivateKey) (string, error) {
	if key == nil {
		return "", errors.New("nil private key")
	}
	sig, err := key.Sign(bsvhash.Sha256([]byte(message)))
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify reports whether signature (hex DER) is valid for message under
// publicKey. Malformed keys or signatures simply fail verification.
func Verify(message, signature string, publicKey []byte) bool {
	if signature == "" || len(publicKey) == 0 {
		return false
	}
	pub, err := ec.PublicKeyFromBytes(publicKey)
	if err != nil {
		return false
	}
	der, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	sig, err := ec.ParseDERSignature(der)
	if err != nil {
		return false
	}
	return sig.Verify(bsvhash.Sha256([]byte(message)), pub)
}

// DeriveAddress builds the checksummed base58 address of a public key:
// base58(prefix || sha256(pub) || sha256(prefix || sha256(pub))[:4]).
func DeriveAddress(publicKey []byte) string {
	extended := make([]byte, 0, 1+addressHashLen+addressChecksumLen)
	extended = append(extended, AddressPrefix)
	extended = append(extended, bsvhash.Sha256(publicKey)...)
	checksum := bsvhash.Sha256(extended)[:addressChecksumLen]
	return base58.Encode(append(extended, checksum...))
}

// ValidateAddress checks length, prefix and checksum of an address.
func ValidateAddress(address string) error {
	decoded := base58.Decode(address)
	if len(decoded) != 1+addressHashLen+addressChecksumLen {
		return fmt.Errorf("%w: bad length", ErrInvalidAddress)
	}
	if decoded[0] != AddressPrefix {
		return fmt.Errorf("%w: bad prefix 0x%02x", ErrInvalidAddress, decoded[0])
	}
	payload := decoded[:1+addressHashLen]
	checksum := bsvhash.Sha256(payload)[:addressChecksumLen]
	if !bytes.Equal(checksum, decoded[1+addressHashLen:]) {
		return fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return nil
}

// KeySigner signs with an in-memory private key.
type KeySigner struct {
	key     *ec.PrivateKey
	address string
}

func NewKeySigner(key *ec.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: DeriveAddress(key.PubKey().Compressed())}
}

// GenerateKeySigner creates a signer for a fresh random key.
func GenerateKeySigner() (*KeySigner, error) {
	key, err := ec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Sign(message string) (string, error) { return Sign(message, s.key) }
func (s *KeySigner) PublicKey() []byte                   { return s.key.PubKey().Compressed() }
func (s *KeySigner) Address() string                     { return s.address }
func (s *KeySigner) PrivateKey() *ec.PrivateKey          { return s.key }
