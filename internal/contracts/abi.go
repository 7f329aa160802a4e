// Package contracts holds the view-function ABIs of the lending market
// contracts and builds chain.Call values for them.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const ControllerABI = `[
{"name":"calculate_debt_n1","type":"function","stateMutability":"view","inputs":[{"name":"collateral","type":"uint256"},{"name":"debt","type":"uint256"},{"name":"N","type":"uint256"}],"outputs":[{"name":"","type":"int256"}]},
{"name":"max_borrowable","type":"function","stateMutability":"view","inputs":[{"name":"collateral","type":"uint256"},{"name":"N","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"min_collateral","type":"function","stateMutability":"view","inputs":[{"name":"debt","type":"uint256"},{"name":"N","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"loan_exists","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"name":"user_state","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256[4]"}]},
{"name":"user_prices","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256[2]"}]},
{"name":"total_debt","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"name":"tokens_to_liquidate","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"health","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"full","type":"bool"}],"outputs":[{"name":"","type":"int256"}]},
{"name":"health_calculator","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"},{"name":"d_collateral","type":"int256"},{"name":"d_debt","type":"int256"},{"name":"full","type":"bool"},{"name":"N","type":"uint256"}],"outputs":[{"name":"","type":"int256"}]}
]`

const AMMABI = `[
{"name":"read_user_tick_numbers","type":"function","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"int256[2]"}]},
{"name":"get_dy","type":"function","stateMutability":"view","inputs":[{"name":"i","type":"uint256"},{"name":"j","type":"uint256"},{"name":"in_amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"get_dxdy","type":"function","stateMutability":"view","inputs":[{"name":"i","type":"uint256"},{"name":"j","type":"uint256"},{"name":"out_amount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"},{"name":"","type":"uint256"}]},
{"name":"admin_fees_x","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"name":"admin_fees_y","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"name":"get_base_price","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"name":"price_oracle","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"name":"get_p","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"name":"active_band","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int256"}]},
{"name":"min_band","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int256"}]},
{"name":"max_band","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int256"}]},
{"name":"bands_x","type":"function","stateMutability":"view","inputs":[{"name":"n","type":"int256"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"bands_y","type":"function","stateMutability":"view","inputs":[{"name":"n","type":"int256"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const LeverageZapABI = `[
{"name":"get_collateral","type":"function","stateMutability":"view","inputs":[{"name":"stablecoin","type":"uint256"},{"name":"route_idx","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"calculate_debt_n1","type":"function","stateMutability":"view","inputs":[{"name":"collateral","type":"uint256"},{"name":"debt","type":"uint256"},{"name":"N","type":"uint256"},{"name":"route_idx","type":"uint256"}],"outputs":[{"name":"","type":"int256"}]}
]`

const DeleverageZapABI = `[
{"name":"get_stablecoins","type":"function","stateMutability":"view","inputs":[{"name":"collateral","type":"uint256"},{"name":"route_idx","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"calculate_debt_n1","type":"function","stateMutability":"view","inputs":[{"name":"collateral","type":"uint256"},{"name":"route_idx","type":"uint256"},{"name":"user","type":"address"}],"outputs":[{"name":"","type":"int256"}]}
]`

const ERC20ABI = `[
{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	erc20ABI         = mustParse(ERC20ABI)
	controllerABI    = mustParse(ControllerABI)
	ammABI           = mustParse(AMMABI)
	leverageZapABI   = mustParse(LeverageZapABI)
	deleverageZapABI = mustParse(DeleverageZapABI)
)

func mustParse(def string) *abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return &parsed
}
