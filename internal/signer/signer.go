// Package signer produces EIP-712 attestations for loan previews.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	bytes32Ty, _ = abi.NewType("bytes32", "", nil)
	addressTy, _ = abi.NewType("address", "", nil)
	uint256Ty, _ = abi.NewType("uint256", "", nil)
	int256Ty, _  = abi.NewType("int256", "", nil)
)

// Signer is the EIP-712 signer interface
type Signer interface {
	// SignLoanPreview signs a LoanPreview under the domain of chainID
	SignLoanPreview(chainID uint64, p *LoanPreview) ([]byte, error)
	// Address returns the signer address
	Address() common.Address
}

// Config is the signer configuration
type Config struct {
	PrivateKey    string `yaml:"privateKey"`    // hexadecimal, highest priority
	PrivateKeyEnv string `yaml:"privateKeyEnv"` // environment variable name (fallback)
}

// Enabled reports whether any key source is configured.
func (c Config) Enabled() bool {
	return c.PrivateKey != "" || c.PrivateKeyEnv != ""
}

type signer struct {
	privateKey    *ecdsa.PrivateKey
	address       common.Address
	domainManager *DomainManager
}

// NewSigner creates a signer
func NewSigner(privateKey *ecdsa.PrivateKey, domainManager *DomainManager) Signer {
	return &signer{
		privateKey:    privateKey,
		address:       crypto.PubkeyToAddress(privateKey.PublicKey),
		domainManager: domainManager,
	}
}

// NewSignerFromHex creates a signer from hexadecimal private key
func NewSignerFromHex(hexKey string, domainManager *DomainManager) (Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSigner(privateKey, domainManager), nil
}

// NewSignerFromConfig creates a signer from config (prefers config file private key, falls back to environment variable)
func NewSignerFromConfig(config Config, domainManager *DomainManager) (Signer, error) {
	var hexKey string

	// 1. Prefer private key from config file
	if config.PrivateKey != "" {
		hexKey = strings.TrimSpace(config.PrivateKey)
	} else if config.PrivateKeyEnv != "" {
		// 2. Read from environment variable
		hexKey = strings.TrimSpace(os.Getenv(config.PrivateKeyEnv))
		if hexKey == "" {
			return nil, fmt.Errorf("environment variable %s is not set and no privateKey in config", config.PrivateKeyEnv)
		}
	} else {
		return nil, fmt.Errorf("neither privateKey nor privateKeyEnv is configured")
	}

	return NewSignerFromHex(hexKey, domainManager)
}

func (s *signer) Address() common.Address {
	return s.address
}

func (s *signer) SignLoanPreview(chainID uint64, p *LoanPreview) ([]byte, error) {
	digest, err := Digest(s.domainManager, chainID, p)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(digest.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value to 27 or 28 (Ethereum standard)
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// Digest computes keccak256("\x19\x01" || domainSeparator || structHash).
func Digest(dm *DomainManager, chainID uint64, p *LoanPreview) (common.Hash, error) {
	domainSeparator, ok := dm.DomainSeparator(chainID)
	if !ok {
		return common.Hash{}, fmt.Errorf("no preview domain configured for chainId %d", chainID)
	}
	structHash, err := hashLoanPreview(p)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash LoanPreview: %w", err)
	}
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator, structHash), nil
}

// Recover returns the address that produced sig over digest.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// hashLoanPreview calculates the struct hash; field order matches LoanPreviewTypeHash
func hashLoanPreview(p *LoanPreview) ([]byte, error) {
	args := abi.Arguments{
		{Type: bytes32Ty}, // typeHash
		{Type: addressTy}, // controller
		{Type: addressTy}, // user
		{Type: uint256Ty}, // collateral
		{Type: uint256Ty}, // debt
		{Type: uint256Ty}, // n
		{Type: int256Ty},  // n1
		{Type: int256Ty},  // n2
		{Type: uint256Ty}, // validUntil
	}

	encoded, err := args.Pack(
		LoanPreviewTypeHash,
		p.Controller,
		p.User,
		p.Collateral,
		p.Debt,
		p.N,
		p.N1,
		p.N2,
		p.ValidUntil,
	)
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}
