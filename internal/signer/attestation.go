package signer

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/cache"
)

// Attestation is a signature over a LoanPreview that expires at ValidUntil.
type Attestation struct {
	Signer     common.Address
	Signature  string // 0x-prefixed 65 bytes
	ValidUntil int64
}

// Attester stamps previews with a validity window and signs them.
type Attester struct {
	signer Signer
	ttl    time.Duration
	clock  cache.Clock
}

// NewAttester creates an attester; nil clock means the system clock.
func NewAttester(s Signer, ttl time.Duration, clock cache.Clock) *Attester {
	if clock == nil {
		clock = cache.SystemClock
	}
	return &Attester{signer: s, ttl: ttl, clock: clock}
}

// Attest sets p.ValidUntil and signs p.
func (a *Attester) Attest(chainID uint64, p *LoanPreview) (Attestation, error) {
	validUntil := a.clock.Now().Add(a.ttl).Unix()
	p.ValidUntil = big.NewInt(validUntil)

	sig, err := a.signer.SignLoanPreview(chainID, p)
	if err != nil {
		return Attestation{}, err
	}
	return Attestation{
		Signer:     a.signer.Address(),
		Signature:  hexutil.Encode(sig),
		ValidUntil: validUntil,
	}, nil
}
