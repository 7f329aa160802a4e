package signer

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Default preview domain values
const (
	DefaultDomainName    = "BandLend Preview"
	DefaultDomainVersion = "1"
)

var eip712DomainTypeHash = crypto.Keccak256Hash([]byte(
	"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))

// EIP712Domain represents the EIP-712 Domain structure
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DomainSeparator calculates the EIP-712 Domain Separator
// Reference: https://eips.ethereum.org/EIPS/eip-712
func (d *EIP712Domain) DomainSeparator() []byte {
	args := abi.Arguments{
		{Type: bytes32Ty},
		{Type: bytes32Ty},
		{Type: bytes32Ty},
		{Type: uint256Ty},
		{Type: addressTy},
	}

	encoded, _ := args.Pack(
		eip712DomainTypeHash,
		crypto.Keccak256Hash([]byte(d.Name)),
		crypto.Keccak256Hash([]byte(d.Version)),
		d.ChainID,
		d.VerifyingContract,
	)
	return crypto.Keccak256(encoded)
}

// DomainManager holds one preview domain per chain
type DomainManager struct {
	domains map[uint64]*EIP712Domain
}

// NewDomainManager creates a Domain manager
func NewDomainManager() *DomainManager {
	return &DomainManager{
		domains: make(map[uint64]*EIP712Domain),
	}
}

// AddDomain registers the domain for chainID. Empty name or version use the defaults.
func (m *DomainManager) AddDomain(chainID uint64, name, version string, verifyingContract common.Address) {
	if name == "" {
		name = DefaultDomainName
	}
	if version == "" {
		version = DefaultDomainVersion
	}
	m.domains[chainID] = &EIP712Domain{
		Name:              name,
		Version:           version,
		ChainID:           new(big.Int).SetUint64(chainID),
		VerifyingContract: verifyingContract,
	}
}

// Domain returns the domain for chainID, or nil.
func (m *DomainManager) Domain(chainID uint64) *EIP712Domain {
	return m.domains[chainID]
}

// DomainSeparator returns the separator for chainID.
func (m *DomainManager) DomainSeparator(chainID uint64) ([]byte, bool) {
	domain := m.domains[chainID]
	if domain == nil {
		return nil, false
	}
	return domain.DomainSeparator(), true
}

// HasDomain checks if a domain is configured for chainID
func (m *DomainManager) HasDomain(chainID uint64) bool {
	_, ok := m.domains[chainID]
	return ok
}

// ChainIDs returns all configured chain IDs in ascending order
func (m *DomainManager) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(m.domains))
	for id := range m.domains {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
