package schema

import (
	"math/big"

	"github.com/remyoudompheng/bigfft"

	"typedtables/errs"
)

// EncodeBigInt renders a signed arbitrary-precision integer as a sign byte
// (0 positive-or-zero, 1 negative) followed by the big-endian magnitude;
// ordering comparisons on
// decoded values are delegated to math/big, which already orders correctly.
func EncodeBigInt(v *big.Int) []byte {
	mag := v.Bytes()
	out := make([]byte, 1+len(mag))
	if v.Sign() < 0 {
		out[0] = 1
	}
	copy(out[1:], mag)
	return out
}

func DecodeBigInt(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b[1:])
	if len(b) > 0 && b[0] == 1 {
		v.Neg(v)
	}
	return v
}

// EncodeBigUint rejects negative inputs at encode time (spec §9); the
// on-disk shape is the plain big-endian magnitude with no sign byte.
func EncodeBigUint(v *big.Int) ([]byte, error) {
	if v.Sign() < 0 {
		return nil, errs.NewOverflowError("biguint", v.String())
	}
	return v.Bytes(), nil
}

func DecodeBigUint(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// NormalizeFraction reduces num/den by their gcd and moves any negative
// sign onto the numerator, rejecting a zero denominator.
func NormalizeFraction(num, den *big.Int) (*big.Int, *big.Int, error) {
	if den.Sign() == 0 {
		return nil, nil, errs.NewInvalidDefault("fraction", "denominator")
	}
	n, d := new(big.Int).Set(num), new(big.Int).Set(den)
	if d.Sign() < 0 {
		n.Neg(n)
		d.Neg(d)
	}
	g := new(big.Int).GCD(nil, nil, new(big.Int).Abs(n), d)
	if g.Sign() != 0 && g.Cmp(big.NewInt(1)) != 0 {
		n.Div(n, g)
		d.Div(d, g)
	}
	return n, d, nil
}

// bigfftMulThreshold is the operand bit length above which bigfft's
// Karatsuba/FFT multiplication outperforms math/big's schoolbook path; below
// it, math/big.Int.Mul is used directly to avoid FFT setup overhead on
// small fractions (the common case for ordinary query values).
const bigfftMulThreshold = 1 << 12

func mul(a, b *big.Int) *big.Int {
	if a.BitLen() > bigfftMulThreshold && b.BitLen() > bigfftMulThreshold {
		return bigfft.Mul(a, b)
	}
	return new(big.Int).Mul(a, b)
}

// CompareFraction orders a/b against c/d without computing a common
// denominator division, by cross-multiplying — the only place in the
// fraction codec where operand magnitudes can be large enough for bigfft's
// faster multiplication to matter.
func CompareFraction(aNum, aDen, bNum, bDen *big.Int) int {
	left := mul(aNum, bDen)
	right := mul(bNum, aDen)
	return left.Cmp(right)
}
