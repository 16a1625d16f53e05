// Copyright 2025 The Crystalline Lattice Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lattice

import "math"

// nthPrimes returns the first count primes (primes[i] is the (i+1)-th
// prime, i.e. primes[0] == 2). It sieves an upper bound estimated from
// the prime number theorem and doubles it until enough primes are found,
// so it never under-allocates for the caller.
func nthPrimes(count int) []uint64 {
	if count <= 0 {
		return nil
	}

	bound := estimateUpperBound(count)
	for {
		primes := sieve(bound)
		if len(primes) >= count {
			return primes[:count]
		}
		bound *= 2
	}
}

// estimateUpperBound returns a bound n such that the n-th prime is very
// likely below it, using the standard p_n < n(ln n + ln ln n) bound for
// n >= 6, with a safety margin and a floor for small n.
func estimateUpperBound(count int) int {
	if count < 6 {
		return 15
	}
	n := float64(count)
	lnN := math.Log(n)
	bound := n*(lnN+math.Log(lnN)) + float64(count)*2
	return int(bound) + 16
}

// sieve returns all primes <= limit using the sieve of Eratosthenes,
// stored contiguously and in ascending order.
func sieve(limit int) []uint64 {
	if limit < 2 {
		return nil
	}
	composite := make([]bool, limit+1)
	primes := make([]uint64, 0, limit/10+16)

	for i := 2; i <= limit; i++ {
		if composite[i] {
			continue
		}
		primes = append(primes, uint64(i))
		if i > limit/i {
			continue
		}
		for j := i * i; j <= limit; j += i {
			composite[j] = true
		}
	}
	return primes
}
