package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind discriminates the four tracked pool events.
type Kind uint8

const (
	KindSupply Kind = iota
	KindWithdraw
	KindRepay
	KindBorrow
)

func (k Kind) String() string {
	switch k {
	case KindSupply:
		return "supply"
	case KindWithdraw:
		return "withdraw"
	case KindRepay:
		return "repay"
	case KindBorrow:
		return "borrow"
	default:
		return "unknown"
	}
}

// Event is a normalized pool event. Amount is in native token units.
type Event struct {
	Kind        Kind
	Reserve     common.Address
	Account     common.Address
	OnBehalfOf  common.Address
	Amount      *big.Int
	BlockNumber uint64
	TxHash      common.Hash
}

// Matches reports whether the event moves the given account's balances.
// Supply and Borrow credit the position owner, named by either the user or
// the on-behalf-of field. Withdraw and Repay debit the user only: the second
// party there is the recipient or the repayer, whose own balances are
// untouched.
func (e Event) Matches(account common.Address) bool {
	switch e.Kind {
	case KindSupply, KindBorrow:
		return e.Account == account || e.OnBehalfOf == account
	default:
		return e.Account == account
	}
}
