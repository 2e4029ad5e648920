package ibf

import "math"

// DefaultFPRate is the false positive budget used when none is configured.
const DefaultFPRate = 0.05

// BinSizeFor returns the number of bits per bin required to keep a bin with
// n elements at or below the false positive rate p when using k hash
// functions:
//
//	m = ceil( -k*n / ln(1 - p^(1/k)) )
//
// This is the exact inversion of the Bloom filter false positive formula
// p = (1 - e^(-k*n/m))^k, so no optimal-k assumption is baked in.
func BinSizeFor(n uint64, p float64, k int) uint64 {
	if n == 0 {
		return 1
	}
	if p <= 0 || p >= 1 {
		p = DefaultFPRate
	}
	kf := float64(k)
	m := math.Ceil(-kf * float64(n) / math.Log(1-math.Pow(p, 1/kf)))
	if m < 1 {
		return 1
	}
	return uint64(m)
}

// EstimateFPRate returns the expected false positive rate of a bin holding
// n elements: (1 - e^(-k*n/m))^k.
func EstimateFPRate(binSize uint64, k int, n uint64) float64 {
	if binSize == 0 || n == 0 {
		return 0
	}
	kf := float64(k)
	return math.Pow(1-math.Exp(-kf*float64(n)/float64(binSize)), kf)
}
