package notary

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher(t *testing.T) {
	h := NewHasher()

	tests := []struct {
		alg  HashAlgorithm
		want string
	}{
		{SHA1, "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{SHA256, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{SHA3256, "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532"},
	}

	for _, tt := range tests {
		t.Run(string(tt.alg), func(t *testing.T) {
			d, err := h.Hash(tt.alg, []byte("abc"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.String())
		})
	}

	_, err := h.Hash("md5", []byte("abc"))
	assert.Error(t, err)
}

func TestKeySigner(t *testing.T) {
	seed, _ := hex.DecodeString("9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60")
	s, err := NewKeySigner(seed)
	require.NoError(t, err)
	assert.Equal(t, NymIDFromKey(s.PublicKey()), s.NymID())
	assert.Equal(t, seed, s.Seed())

	_, err = NewKeySigner(seed[:16])
	assert.Error(t, err)

	v := NewVerifier()
	id := PublicIdentity{NymID: s.NymID(), Key: s.PublicKey()}
	sig := s.Sign([]byte("hello"))

	assert.True(t, v.Verify(id, SignedPayload{Data: []byte("hello"), Signature: sig}))
	assert.False(t, v.Verify(id, SignedPayload{Data: []byte("hellO"), Signature: sig}))

	other, err := GenerateKeySigner()
	require.NoError(t, err)
	forged := PublicIdentity{NymID: other.NymID(), Key: s.PublicKey()}
	assert.False(t, v.Verify(forged, SignedPayload{Data: []byte("hello"), Signature: sig}), "nym id must match the key")
}
