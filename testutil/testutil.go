package testutil

import (
	"math"
	"math/rand"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Payload returns n random bytes. Random bytes do not compress.
func (r *RNG) Payload(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := make([]byte, n)
	_, _ = r.rand.Read(p)
	return p
}

// Payloads generates num payloads with lengths uniform in [0, maxLen].
// Zero-length payloads are included on purpose: they are marker records.
func (r *RNG) Payloads(num, maxLen int) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]byte, num)
	for i := range num {
		p := make([]byte, r.rand.Intn(maxLen+1))
		_, _ = r.rand.Read(p)
		out[i] = p
	}
	return out
}

// TextPayload returns n bytes drawn from a small alphabet. It compresses well,
// which makes it useful for codec tests.
func (r *RNG) TextPayload(n int) []byte {
	const alphabet = "update tuple set col = ? where page = ?; "

	r.mu.Lock()
	defer r.mu.Unlock()

	p := make([]byte, n)
	offset := r.rand.Intn(len(alphabet))
	for i := range p {
		p[i] = alphabet[(offset+i)%len(alphabet)]
	}
	return p
}

// Zipf returns a Zipfian-distributed value in [0, n).
// Uses Zipf's law: P(k) ∝ 1/k^s where s is the skew parameter.
func (r *RNG) Zipf(n int, s float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zipfLocked(n, s)
}

// zipfLocked is the internal implementation (caller must hold lock).
func (r *RNG) zipfLocked(n int, s float64) int {
	if n <= 1 {
		return 0
	}

	var hns float64
	for i := 1; i <= n; i++ {
		hns += 1.0 / math.Pow(float64(i), s)
	}

	u := r.rand.Float64() * hns
	var cumulative float64
	for k := 1; k <= n; k++ {
		cumulative += 1.0 / math.Pow(float64(k), s)
		if u <= cumulative {
			return k - 1
		}
	}

	return n - 1
}

// ZipfSizes generates n payload sizes in [0, maxLen) with a Zipfian skew:
// mostly small records with a long tail of large ones, like a real redo log.
func (r *RNG) ZipfSizes(n, maxLen int, s float64) []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sizes := make([]int, n)
	for i := range n {
		sizes[i] = r.zipfLocked(maxLen, s)
	}
	return sizes
}
