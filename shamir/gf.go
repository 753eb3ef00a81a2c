package shamir

import "sync"

// primitivePolynomials maps a field bit width to the low-order terms of a
// primitive polynomial for GF(2^bits). The leading x^bits term is implicit.
var primitivePolynomials = map[int]int{
	3:  3,
	4:  3,
	5:  5,
	6:  3,
	7:  3,
	8:  29,
	9:  17,
	10: 9,
	11: 5,
	12: 83,
	13: 27,
	14: 43,
	15: 3,
	16: 45,
	17: 9,
	18: 39,
	19: 39,
	20: 9,
}

// field carries the exp/log tables for one GF(2^bits) instance.
type field struct {
	bits int
	size int
	exp  []int
	log  []int
}

var (
	fieldMu    sync.Mutex
	fieldCache = map[int]*field{}
)

// fieldFor returns the cached field for the given bit width, building the
// tables on first use. Table construction is O(2^bits); the largest width
// (20) costs about a million iterations once per process.
func fieldFor(bits int) *field {
	fieldMu.Lock()
	defer fieldMu.Unlock()

	if f, ok := fieldCache[bits]; ok {
		return f
	}

	size := 1 << bits
	f := &field{
		bits: bits,
		size: size,
		exp:  make([]int, size-1),
		log:  make([]int, size),
	}
	x := 1
	for i := 0; i < size-1; i++ {
		f.exp[i] = x
		f.log[x] = i
		x <<= 1
		if x >= size {
			x ^= primitivePolynomials[bits]
			x &= size - 1
		}
	}
	fieldCache[bits] = f
	return f
}

func (f *field) mul(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return f.exp[(f.log[a]+f.log[b])%(f.size-1)]
}

// div returns a/b. b must be non-zero; share ids are validated non-zero and
// pairwise distinct before interpolation, so denominators never vanish.
func (f *field) div(a, b int) int {
	if a == 0 {
		return 0
	}
	return f.exp[(f.log[a]-f.log[b]+f.size-1)%(f.size-1)]
}

// eval computes coeffs-as-polynomial at x with Horner's method. The constant
// term is passed separately.
func (f *field) eval(constant int, coeffs []int, x int) int {
	y := 0
	for i := len(coeffs) - 1; i >= 0; i-- {
		y = f.mul(y, x) ^ coeffs[i]
	}
	return f.mul(y, x) ^ constant
}

// interpolate evaluates the unique polynomial through the given points at
// x=0 using Lagrange basis polynomials.
func (f *field) interpolate(xs, ys []int) int {
	secret := 0
	for i := range xs {
		basis := 1
		for j := range xs {
			if i == j {
				continue
			}
			// In GF(2^n) subtraction is XOR, and -x == x.
			basis = f.mul(basis, f.div(xs[j], xs[i]^xs[j]))
		}
		secret ^= f.mul(ys[i], basis)
	}
	return secret
}
