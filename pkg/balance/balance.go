package balance

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// Balance is the staked and non-staked amount of an account in yoctoNEAR.
// Both components are non-negative integers of arbitrary size.
type Balance struct {
	Staked    decimal.Decimal
	NonStaked decimal.Decimal
}

// Delta is a signed difference between two balances.
type Delta struct {
	Staked    decimal.Decimal
	NonStaked decimal.Decimal
}

// AccountBalance pairs an account with the balance reported for it.
type AccountBalance struct {
	AccountID string
	Balance   Balance
}

// Zero is the balance of an account that does not exist.
func Zero() Balance {
	return Balance{Staked: decimal.Zero, NonStaked: decimal.Zero}
}

// Parse builds a Balance from decimal text.
func Parse(staked, nonStaked string) (Balance, error) {
	s, err := ParseAmount(staked)
	if err != nil {
		return Balance{}, fmt.Errorf("staked: %w", err)
	}
	n, err := ParseAmount(nonStaked)
	if err != nil {
		return Balance{}, fmt.Errorf("non-staked: %w", err)
	}
	return Balance{Staked: s, NonStaked: n}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(staked, nonStaked string) Balance {
	b, err := Parse(staked, nonStaked)
	if err != nil {
		panic(err)
	}
	return b
}

// ParseAmount accepts only base-10 digits, so exponents, signs, fractions
// and whitespace are all rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return d, nil
}

// Sub returns b - prev.
func (b Balance) Sub(prev Balance) Delta {
	return Delta{
		Staked:    b.Staked.Sub(prev.Staked),
		NonStaked: b.NonStaked.Sub(prev.NonStaked),
	}
}

func (b Balance) Equal(o Balance) bool {
	return b.Staked.Equal(o.Staked) && b.NonStaked.Equal(o.NonStaked)
}

func (b Balance) String() string {
	return fmt.Sprintf("{staked:%s nonStaked:%s}", b.Staked.String(), b.NonStaked.String())
}

// ZeroDelta is used for counterparty snapshot rows.
func ZeroDelta() Delta {
	return Delta{Staked: decimal.Zero, NonStaked: decimal.Zero}
}

type balanceJSON struct {
	Staked    string `json:"staked"`
	NonStaked string `json:"nonStaked"`
}

func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(balanceJSON{Staked: b.Staked.String(), NonStaked: b.NonStaked.String()})
}

func (b *Balance) UnmarshalJSON(data []byte) error {
	var raw balanceJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw.Staked, raw.NonStaked)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
