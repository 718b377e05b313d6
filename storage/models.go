package storage

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// Profile is a named keypair the CLI can sign with, e.g. "admin" or "alice".
type Profile struct {
	Name       string
	PrivateKey solana.PrivateKey
	CreatedAt  time.Time
}

// PublicKey returns the address of the profile.
func (p *Profile) PublicKey() solana.PublicKey {
	return p.PrivateKey.PublicKey()
}

// profileData is the on-disk form of a Profile.
type profileData struct {
	Name       string    `json:"name"`
	PrivateKey string    `json:"private_key"` // base64
	CreatedAt  time.Time `json:"created_at"`
}

type fileData struct {
	Profiles []profileData `json:"profiles"`
}
