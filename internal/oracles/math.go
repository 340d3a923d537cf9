package oracles

import (
	"math"
	"math/big"
	"math/bits"

	"github.com/vuittont60/scope/internal/domain"
)

// scaledRatio returns factor × num / den using a 128-bit intermediate.
// A zero denominator or a numerator below one denominator unit yields 0.
func scaledRatio(factor, num, den uint64) (uint64, error) {
	hi, lo := bits.Mul64(factor, num)
	if den == 0 || (hi == 0 && lo < den) {
		return 0, nil
	}
	// The quotient fits in 64 bits only when hi < den.
	if hi >= den {
		return 0, domain.Errorf(domain.ErrMathOverflow, "%d * %d / %d", factor, num, den)
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}

var (
	bigTen    = big.NewInt(10)
	maxUint64 = new(big.Int).SetUint64(math.MaxUint64)
)

// decimalToPrice narrows mantissa × 10^-scale to a u64 price, dropping
// trailing precision while the mantissa does not fit.
func decimalToPrice(mantissa *big.Int, scale uint32) (domain.Price, error) {
	if mantissa.Sign() < 0 {
		return domain.Price{}, domain.Errorf(domain.ErrPriceNotValid, "negative price %s", mantissa)
	}
	m := new(big.Int).Set(mantissa)
	for m.Cmp(maxUint64) > 0 && scale > 0 {
		m.Quo(m, bigTen)
		scale--
	}
	if m.Cmp(maxUint64) > 0 {
		return domain.Price{}, domain.Errorf(domain.ErrMathOverflow, "price %s does not fit", mantissa)
	}
	return domain.Price{Value: m.Uint64(), Exp: uint64(scale)}, nil
}

func pow10(n uint32) *big.Int {
	return new(big.Int).Exp(bigTen, big.NewInt(int64(n)), nil)
}
