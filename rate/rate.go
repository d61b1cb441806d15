// Package rate provides the conversion function between the two chains'
// assets. The reference deployment pins a fixed ratio; a production relay
// would plug a rate oracle in behind the same function type.
package rate

import (
	"math/big"

	"github.com/pkg/errors"
)

// Func converts an amount in the from-asset's smallest denomination into the
// to-asset's smallest denomination.
type Func func(amount *big.Int, fromAsset, toAsset string) (*big.Int, error)

// Fixed returns a Func that converts by a fixed numerator/denominator ratio,
// regardless of the asset pair.
//
// The reference deployment treats 1 ETH (1e18 wei) as 1 JUNO (1e6 ujuno):
// Fixed(big.NewInt(1), big.NewInt(1e12)) for source->target and the inverse
// for target->source.
func Fixed(num, den *big.Int) Func {
	return func(amount *big.Int, fromAsset, toAsset string) (*big.Int, error) {
		if amount == nil || amount.Sign() < 0 {
			return nil, errors.New("amount must be non-negative")
		}
		if num == nil || den == nil || den.Sign() == 0 {
			return nil, errors.New("invalid fixed rate ratio")
		}

		out := new(big.Int).Mul(amount, num)
		out.Quo(out, den)
		return out, nil
	}
}
