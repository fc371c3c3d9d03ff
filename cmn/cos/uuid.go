package cos

import (
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"

	"github.com/dshatrov/gomary/cmn/atomic"
)

// Alphabet for generated IDs. Chosen, as in the upstream shortid
// default alphabet, to be URL- and log-line safe.
const idABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sidOnce sync.Once
	sid     *shortid.Shortid
	rtie    atomic.Uint32
)

func initSid() {
	sidOnce.Do(func() {
		var err error
		sid, err = shortid.New(1, idABC, 0)
		if err != nil {
			// shortid.New only fails on a malformed alphabet; idABC is a
			// compile-time constant we control, so this can't happen.
			panic(err)
		}
	})
}

// GenID mints a short, process-wide-unique opaque identifier, used for
// PollGroup pollable keys, timer keys, and deletion-subscription keys.
// Collisions are astronomically unlikely (shortid's generator) but
// not cryptographically ruled out; callers that need a hard guarantee
// should additionally scope IDs by owner, as every CORE package here
// does (IDs are keys into an owner-local map, not globally compared).
func GenID() string {
	initSid()
	id, err := sid.Generate()
	if err != nil {
		// exhausted shortid's internal counter space; vanishingly rare,
		// fall back to a hash of the tie-breaker stream.
		return GenTie()
	}
	return id
}

// GenTie produces a short, fast, collision-resistant-enough tie
// breaker string from a process-local monotonic counter mixed through
// xxhash; GenID returns it when its underlying generator fails.
func GenTie() string {
	n := rtie.Add(1)
	h := xxhash.Checksum32(itob(n))
	b := make([]byte, 6)
	for i := range b {
		b[i] = idABC[int(h>>(uint(i)*5))%len(idABC)]
	}
	return string(b)
}

func itob(n uint32) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
}
