package market

import (
	"github.com/ethereum/go-ethereum/common"
)

// NativeAssetSentinel is the placeholder address wallets use for the chain's native coin.
var NativeAssetSentinel = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

// WrappedNativeTokens maps chain IDs to the wrapped native token a market holds as collateral.
var WrappedNativeTokens = map[uint64]common.Address{
	1:     common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"), // Ethereum: WETH
	56:    common.HexToAddress("0xbb4cdb9cbd36b01bd1cbaebf2de08d9173bc095c"), // BSC: WBNB
	8453:  common.HexToAddress("0x4200000000000000000000000000000000000006"), // Base: WETH
	42161: common.HexToAddress("0x82af49447d8a07e3bd95bd0d56f35241523fbab1"), // Arbitrum: WETH
}

// IsNativeAsset reports whether addr is the native-coin sentinel.
func IsNativeAsset(addr common.Address) bool {
	return addr == NativeAssetSentinel
}

// WrappedToken returns the wrapped native token for chainID.
func WrappedToken(chainID uint64) (common.Address, bool) {
	addr, ok := WrappedNativeTokens[chainID]
	return addr, ok
}
