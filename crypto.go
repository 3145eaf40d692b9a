package notary

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/fox-one/mixin-sdk-go/v2/mixinnet"
)

type HashAlgorithm string

const (
	SHA1    HashAlgorithm = "sha1"
	SHA224  HashAlgorithm = "sha224"
	SHA256  HashAlgorithm = "sha256"
	SHA384  HashAlgorithm = "sha384"
	SHA512  HashAlgorithm = "sha512"
	SHA3256 HashAlgorithm = "sha3-256"
)

type Digest []byte

func (d Digest) String() string {
	return hex.EncodeToString(d)
}

type Hasher interface {
	Hash(alg HashAlgorithm, data []byte) (Digest, error)
}

type hasher struct{}

func NewHasher() Hasher {
	return hasher{}
}

func (hasher) Hash(alg HashAlgorithm, data []byte) (Digest, error) {
	switch alg {
	case SHA1:
		sum := sha1.Sum(data)
		return sum[:], nil
	case SHA224:
		sum := sha256.Sum224(data)
		return sum[:], nil
	case SHA256:
		sum := sha256.Sum256(data)
		return sum[:], nil
	case SHA384:
		sum := sha512.Sum384(data)
		return sum[:], nil
	case SHA512:
		sum := sha512.Sum512(data)
		return sum[:], nil
	case SHA3256:
		sum := mixinnet.NewHash(data)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", alg)
	}
}

// NymIDFromKey derives the nym identifier from its public key.
func NymIDFromKey(pub ed25519.PublicKey) string {
	h := mixinnet.NewHash(pub)
	return h.String()
}

type PublicIdentity struct {
	NymID string
	Key   ed25519.PublicKey
}

type SignedPayload struct {
	Data      []byte
	Signature []byte
}

type Verifier interface {
	Verify(signer PublicIdentity, payload SignedPayload) bool
}

type ed25519Verifier struct{}

func NewVerifier() Verifier {
	return ed25519Verifier{}
}

func (ed25519Verifier) Verify(signer PublicIdentity, payload SignedPayload) bool {
	if len(signer.Key) != ed25519.PublicKeySize || len(payload.Signature) != ed25519.SignatureSize {
		return false
	}

	if NymIDFromKey(signer.Key) != signer.NymID {
		return false
	}

	return ed25519.Verify(signer.Key, payload.Data, payload.Signature)
}

type Signer interface {
	NymID() string
	PublicKey() ed25519.PublicKey
	Sign(data []byte) []byte
}

type KeySigner struct {
	key ed25519.PrivateKey
	nym string
}

func NewKeySigner(seed []byte) (*KeySigner, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}

	key := ed25519.NewKeyFromSeed(seed)
	return &KeySigner{
		key: key,
		nym: NymIDFromKey(key.Public().(ed25519.PublicKey)),
	}, nil
}

func GenerateKeySigner() (*KeySigner, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}

	return NewKeySigner(seed)
}

func (s *KeySigner) NymID() string {
	return s.nym
}

func (s *KeySigner) PublicKey() ed25519.PublicKey {
	return s.key.Public().(ed25519.PublicKey)
}

func (s *KeySigner) Seed() []byte {
	return s.key.Seed()
}

func (s *KeySigner) Sign(data []byte) []byte {
	return ed25519.Sign(s.key, data)
}

// SignTransaction stamps the signer's signature on a request.
func SignTransaction(s Signer, tx *Transaction) {
	tx.Signature = s.Sign(tx.payload())
}

// SignCheque stamps the drawer's signature on a cheque.
func SignCheque(s Signer, c *Cheque) {
	c.Signature = s.Sign(c.payload())
}
