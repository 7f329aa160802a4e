package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// LoanPreview is the signed summary of a create-loan preview.
// Amounts are raw contract units; N1 and N2 are signed band indexes.
type LoanPreview struct {
	Controller common.Address // market controller the preview was computed against
	User       common.Address // zero for anonymous previews
	Collateral *big.Int
	Debt       *big.Int
	N          *big.Int
	N1         *big.Int
	N2         *big.Int
	ValidUntil *big.Int // Unix seconds
}

// LoanPreviewTypeHash is the keccak256 hash of the LoanPreview type string.
var LoanPreviewTypeHash = crypto.Keccak256Hash([]byte(
	"LoanPreview(address controller,address user,uint256 collateral,uint256 debt," +
		"uint256 n,int256 n1,int256 n2,uint256 validUntil)"))
