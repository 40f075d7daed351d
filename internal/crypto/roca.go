package crypto

import (
	"math/big"
)

// rocaPrimes are the small primes used by the ROCA fingerprint test.
// A modulus generated by the flawed Infineon RSALib satisfies
// N mod p ∈ <65537> mod p for every p in this list.
var rocaPrimes = []int64{
	11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53, 59, 61, 67, 71, 73, 79,
	83, 89, 97, 101, 103, 107, 109, 113, 127, 131, 137, 139, 149, 151, 157,
	163, 167,
}

// rocaSubgroups[i] is the bitmask of the multiplicative subgroup generated
// by 65537 modulo rocaPrimes[i]: bit r is set iff r = 65537^k mod p for some
// k. Computed once at package init.
var rocaSubgroups []*big.Int

func init() {
	rocaSubgroups = make([]*big.Int, len(rocaPrimes))
	for i, p := range rocaPrimes {
		mask := new(big.Int)
		r := int64(1)
		for {
			mask.SetBit(mask, int(r), 1)
			r = (r * (65537 % p)) % p
			if r == 1 {
				break
			}
		}
		rocaSubgroups[i] = mask
	}
}

// IsROCAAffected reports whether the RSA modulus carries the ROCA
// fingerprint. Affected keys come from a known-broken generator and their
// factorisation is computationally feasible; they must be rejected.
func IsROCAAffected(modulus *big.Int) bool {
	tmp := new(big.Int)
	for i, p := range rocaPrimes {
		residue := tmp.Mod(modulus, big.NewInt(p)).Int64()
		if rocaSubgroups[i].Bit(int(residue)) == 0 {
			return false
		}
	}
	return true
}
