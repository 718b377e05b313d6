package staking_rewards

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gagliardetto/solana-go"
)

const (
	defaultConfigDirName = ".config"
	stakingConfigDirName = "staking-rewards"
	walletFileName       = "id.json"
)

// Wallet holds the Solana keypair for the CLI.
type Wallet struct {
	PrivateKey solana.PrivateKey
}

// PublicKey returns the public key of the wallet.
func (w *Wallet) PublicKey() solana.PublicKey {
	return w.PrivateKey.PublicKey()
}

// LoadOrCreateWallet loads a keypair file in solana-keygen format from path,
// or creates a new one there if it doesn't exist. An empty path selects the
// default location. created reports whether a new key was generated.
func LoadOrCreateWallet(path string) (wallet *Wallet, created bool, err error) {
	if path == "" {
		if path, err = DefaultWalletPath(); err != nil {
			return nil, false, fmt.Errorf("failed to get wallet path: %w", err)
		}
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		wallet, err := createNewWallet(path)
		return wallet, err == nil, err
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to check for wallet file: %w", err)
	}

	wallet, err = LoadWallet(path)
	return wallet, false, err
}

// LoadWallet reads a solana-keygen keypair file.
func LoadWallet(path string) (*Wallet, error) {
	privateKey, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet file: %w", err)
	}
	if len(privateKey) != solana.PrivateKeyLength {
		return nil, fmt.Errorf("invalid private key length: expected %d, got %d", solana.PrivateKeyLength, len(privateKey))
	}
	return &Wallet{PrivateKey: privateKey}, nil
}

func createNewWallet(path string) (*Wallet, error) {
	privateKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}
	wallet := &Wallet{PrivateKey: privateKey}
	if err := SaveWallet(wallet, path); err != nil {
		return nil, fmt.Errorf("failed to save new wallet: %w", err)
	}
	return wallet, nil
}

// SaveWallet writes the wallet's key as a JSON byte array, the format solana-keygen uses.
func SaveWallet(wallet *Wallet, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create wallet directory: %w", err)
	}

	keyBytes := make([]int, len(wallet.PrivateKey))
	for i, b := range wallet.PrivateKey {
		keyBytes[i] = int(b)
	}
	bytes, err := json.Marshal(keyBytes)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := os.WriteFile(path, bytes, 0600); err != nil {
		return fmt.Errorf("failed to write wallet file: %w", err)
	}
	return nil
}

// DefaultWalletPath returns the default absolute path for the wallet file.
// e.g., /home/user/.config/staking-rewards/id.json
func DefaultWalletPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, defaultConfigDirName, stakingConfigDirName, walletFileName), nil
}
