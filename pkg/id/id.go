package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Minter issues ULIDs stamped with caller-supplied times. A Minter built from a
// non-zero seed yields the same ids for the same sequence of stamps.
type Minter struct {
	mu      sync.Mutex
	rng     *rand.Rand
	entropy *ulid.MonotonicEntropy
}

// NewMinter seeds the entropy stream. Seed 0 draws one from crypto/rand.
func NewMinter(seed uint64) *Minter {
	if seed == 0 {
		_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
	}
	rng := rand.New(rand.NewSource(int64(seed)))
	return &Minter{rng: rng, entropy: ulid.Monotonic(rng, 0)}
}

// At returns an id stamped with t. Ids minted for the same millisecond
// increase lexicographically.
func (m *Minter) At(t time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms := ulid.Timestamp(t.UTC())
	id, err := ulid.New(ms, m.entropy)
	if err != nil {
		// Monotonic entropy overflowed within one millisecond.
		id = ulid.MustNew(ms, m.rng)
	}
	return id.String()
}
