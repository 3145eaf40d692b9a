package notary

import (
	"crypto/ed25519"
	"time"
)

// Nym is a registered identity; its id is derived from its key.
type Nym struct {
	ID        string            `json:"id"`
	PublicKey ed25519.PublicKey `json:"public_key"`
	CreatedAt time.Time         `json:"created_at"`
}

func (n *Nym) Identity() PublicIdentity {
	return PublicIdentity{NymID: n.ID, Key: n.PublicKey}
}
