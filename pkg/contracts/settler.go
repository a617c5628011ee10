package contracts

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/DeBrosOfficial/settlement/pkg/runtime"
)

// Settler is the escrow settlement entry point the receipt exchange invokes
// when a confirmed receipt is redeemed. The usage ledger implements it and
// only accepts calls whose caller is its configured exchange address.
type Settler interface {
	// SettleUsage settles servedUnits of metered service from the client's
	// prepaid escrow to the node, pricing free-quota units against the native
	// asset. The call must originate from the configured exchange instance.
	SettleUsage(call runtime.Call, client, node, asset common.Address, servedUnits uint64) error
}
