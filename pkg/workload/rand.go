package workload

import "math/rand/v2"

// clastSyllables are the ten syllables make_clast in
// original_source/src/record_generator.cpp concatenates (three per
// name) to build a synthetic last name from a 0-999 index.
var clastSyllables = [10]string{
	"BAR", "OUGHT", "ABLE", "PRI", "PRES",
	"ESE", "ANTI", "CALLY", "ATION", "EING",
}

// makeCLast renders num (0-999) as TPC-C's three-syllable synthetic
// last name, e.g. 0 -> "BARBARBAR".
func makeCLast(num int) string {
	return clastSyllables[num/100] + clastSyllables[(num%100)/10] + clastSyllables[num%10]
}

// Rand wraps a per-worker PRNG with TPC-C's generator helpers. Each
// worker owns one (never shared across goroutines), matching the
// original's thread-local generator.
type Rand struct {
	r        *rand.Rand
	nurandCs map[int]int
}

// NewRand seeds a fresh generator from seed (pass a worker id or any
// distinguishing value so concurrent workers don't share a stream).
func NewRand(seed uint64) *Rand {
	return &Rand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Int returns a uniform random integer in [min, max].
func (g *Rand) Int(min, max int) int {
	return int(g.r.Int64N(int64(max-min+1))) + min
}

// Float64 returns urand(min,max)/divider, TPC-C's fixed-point money
// generator.
func (g *Rand) Float64(min, max int, divider float64) float64 {
	return float64(g.Int(min, max)) / divider
}

// NURand implements the TPC-C non-uniform random function: ((random(0,A)
// | random(x,y)) + C) % (y-x+1) + x. a is the run-fixed constant (255
// for last names, 1023 for customer ids, 8191 for item ids); c is a
// per-run constant held fixed across a benchmark execution. Reusing
// the same c across calls with the same a is required for TPC-C's
// access-skew property; g.nurandC supplies one per a.
func (g *Rand) NURand(a, x, y int) int {
	c := g.nurandC(a)
	return ((g.Int(0, a)|g.Int(x, y))+c)%(y-x+1) + x
}

// nurandC lazily picks and caches one C constant per A value for this
// generator's lifetime, per the TPC-C spec's requirement that C stay
// fixed within a run.
func (g *Rand) nurandC(a int) int {
	if g.nurandCs == nil {
		g.nurandCs = make(map[int]int)
	}
	c, ok := g.nurandCs[a]
	if !ok {
		c = g.Int(0, a)
		g.nurandCs[a] = c
	}
	return c
}

// AString returns a random alphanumeric string of length in [min, max].
func (g *Rand) AString(min, max int) string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	n := g.Int(min, max)
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = alphabet[g.Int(0, len(alphabet)-1)]
	}
	return string(buf)
}

// NString returns a random digit string of length in [min, max].
func (g *Rand) NString(min, max int) string {
	n := g.Int(min, max)
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte('0' + g.Int(0, 9))
	}
	return string(buf)
}

// CLast renders num (0-999) as a synthetic last name.
func (g *Rand) CLast(num int) string { return makeCLast(num) }

// RandomCLast picks a customer id's run-time last name: ids below
// 1000 get a deterministic name derived from the id (load-time
// behavior); at run time every last-name lookup uses the NURand(255)
// draw instead.
func (g *Rand) RandomCLast() string { return makeCLast(g.NURand(255, 0, 999)) }

// Bool returns true with probability 1/n.
func (g *Rand) Bool(n int) bool { return g.Int(1, n) == 1 }
