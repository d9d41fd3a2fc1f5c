package events

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Aave V3 Pool events. Topic hashes are derived from these signatures rather
// than hardcoded hex; the values documented upstream are not trustworthy.
const poolABIJSON = `[
{"type":"event","name":"Supply","inputs":[{"name":"reserve","type":"address","indexed":true},{"name":"user","type":"address","indexed":false},{"name":"onBehalfOf","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"referralCode","type":"uint16","indexed":true}]},
{"type":"event","name":"Withdraw","inputs":[{"name":"reserve","type":"address","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]},
{"type":"event","name":"Repay","inputs":[{"name":"reserve","type":"address","indexed":true},{"name":"user","type":"address","indexed":true},{"name":"repayer","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"useATokens","type":"bool","indexed":false}]},
{"type":"event","name":"Borrow","inputs":[{"name":"reserve","type":"address","indexed":true},{"name":"user","type":"address","indexed":false},{"name":"onBehalfOf","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"interestRateMode","type":"uint8","indexed":false},{"name":"borrowRate","type":"uint256","indexed":false},{"name":"referralCode","type":"uint16","indexed":true}]}
]`

var (
	// ErrUnrecognizedEvent marks logs whose leading topic is none of the four
	// tracked signatures.
	ErrUnrecognizedEvent = errors.New("unrecognized event topic")
	// ErrMalformedPayload marks logs with a known topic but an undecodable
	// topic list or data section.
	ErrMalformedPayload = errors.New("malformed event payload")
)

var poolABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		panic("failed to parse pool ABI: " + err.Error())
	}
	poolABI = parsed
}

// Topics returns the topic hashes of the four tracked events, for use in a
// log subscription filter.
func Topics() []common.Hash {
	return []common.Hash{
		poolABI.Events["Supply"].ID,
		poolABI.Events["Withdraw"].ID,
		poolABI.Events["Repay"].ID,
		poolABI.Events["Borrow"].ID,
	}
}

// Decode normalizes a raw pool log into an Event. It is a pure function of
// the log: no filtering by reserve or account happens here.
func Decode(lg types.Log) (Event, error) {
	if len(lg.Topics) == 0 {
		return Event{}, fmt.Errorf("%w: log has no topics", ErrMalformedPayload)
	}

	def, err := poolABI.EventByID(lg.Topics[0])
	if err != nil {
		return Event{}, fmt.Errorf("%w: topic0 %s", ErrUnrecognizedEvent, lg.Topics[0].Hex())
	}

	// all four events carry exactly three indexed parameters
	if len(lg.Topics) != 4 {
		return Event{}, fmt.Errorf("%w: %s log has %d topics, want 4", ErrMalformedPayload, def.Name, len(lg.Topics))
	}

	values, err := def.Inputs.Unpack(lg.Data)
	if err != nil {
		return Event{}, fmt.Errorf("%w: unpack %s data: %v", ErrMalformedPayload, def.Name, err)
	}

	ev := Event{
		Reserve:     common.BytesToAddress(lg.Topics[1].Bytes()),
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
	}

	switch def.Name {
	case "Supply":
		ev.Kind = KindSupply
		ev.OnBehalfOf = common.BytesToAddress(lg.Topics[2].Bytes())
		user, amount, err := addressAmount(values)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, def.Name, err)
		}
		ev.Account = user
		ev.Amount = amount
	case "Withdraw":
		ev.Kind = KindWithdraw
		ev.Account = common.BytesToAddress(lg.Topics[2].Bytes())
		ev.OnBehalfOf = common.BytesToAddress(lg.Topics[3].Bytes())
		amount, err := amountAt(values, 0)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, def.Name, err)
		}
		ev.Amount = amount
	case "Repay":
		ev.Kind = KindRepay
		ev.Account = common.BytesToAddress(lg.Topics[2].Bytes())
		ev.OnBehalfOf = common.BytesToAddress(lg.Topics[3].Bytes())
		amount, err := amountAt(values, 0)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, def.Name, err)
		}
		ev.Amount = amount
	case "Borrow":
		ev.Kind = KindBorrow
		ev.OnBehalfOf = common.BytesToAddress(lg.Topics[2].Bytes())
		user, amount, err := addressAmount(values)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, def.Name, err)
		}
		ev.Account = user
		ev.Amount = amount
	default:
		return Event{}, fmt.Errorf("%w: topic0 %s", ErrUnrecognizedEvent, lg.Topics[0].Hex())
	}

	return ev, nil
}

func addressAmount(values []interface{}) (common.Address, *big.Int, error) {
	if len(values) < 2 {
		return common.Address{}, nil, fmt.Errorf("want at least 2 data fields, got %d", len(values))
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("field 0 is %T, want address", values[0])
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("field 1 is %T, want uint256", values[1])
	}
	return addr, amount, nil
}

func amountAt(values []interface{}, i int) (*big.Int, error) {
	if len(values) <= i {
		return nil, fmt.Errorf("want at least %d data fields, got %d", i+1, len(values))
	}
	amount, ok := values[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("field %d is %T, want uint256", i, values[i])
	}
	return amount, nil
}
