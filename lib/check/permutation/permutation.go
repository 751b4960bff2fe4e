package permutation

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	rounds = 4

	// golden ratio increment of the splitmix64 sequence
	gamma = 0x9e3779b97f4a7c15
)

// --------------------------------------------------------------------------
// Permutation
// --------------------------------------------------------------------------

// Permutation is a keyed bijection over fixed width unsigned integers.
// It is a balanced Feistel network with four rounds, the round keys are
// derived from the 64-bit key. Values outside the bit width are masked.
//
// A Permutation is immutable after creation and safe for concurrent use.
type Permutation struct {
	keys [rounds]uint64
}

// New creates a permutation for the given key. Creating a permutation only
// derives four round keys, so it is cheap enough to be done per operation.
func New(key int64) *Permutation {
	p := &Permutation{}
	state := uint64(key)
	for i := range p.keys {
		state += gamma
		p.keys[i] = mix(state)
	}
	return p
}

// Transform16 maps a 16-bit value to a 16-bit value.
func (p *Permutation) Transform16(x uint16) uint16 {
	return uint16(p.transform(uint64(x), 16))
}

// Untransform16 is the inverse of Transform16.
func (p *Permutation) Untransform16(y uint16) uint16 {
	return uint16(p.untransform(uint64(y), 16))
}

// Transform40 maps a 40-bit value to a 40-bit value.
func (p *Permutation) Transform40(x uint64) uint64 {
	return p.transform(x, 40)
}

// Untransform40 is the inverse of Transform40.
func (p *Permutation) Untransform40(y uint64) uint64 {
	return p.untransform(y, 40)
}

// Transform48 maps a 48-bit value to a 48-bit value.
func (p *Permutation) Transform48(x uint64) uint64 {
	return p.transform(x, 48)
}

// Untransform48 is the inverse of Transform48.
func (p *Permutation) Untransform48(y uint64) uint64 {
	return p.untransform(y, 48)
}

// --------------------------------------------------------------------------
// Feistel network
// --------------------------------------------------------------------------

// transform runs the feistel rounds forward. bits must be even.
func (p *Permutation) transform(x uint64, bits uint) uint64 {
	half := bits / 2
	mask := uint64(1)<<half - 1

	l := (x >> half) & mask
	r := x & mask
	for i := 0; i < rounds; i++ {
		l, r = r, l^(p.round(i, r)&mask)
	}
	return l<<half | r
}

// untransform runs the feistel rounds backwards
func (p *Permutation) untransform(y uint64, bits uint) uint64 {
	half := bits / 2
	mask := uint64(1)<<half - 1

	l := (y >> half) & mask
	r := y & mask
	for i := rounds - 1; i >= 0; i-- {
		l, r = r^(p.round(i, l)&mask), l
	}
	return l<<half | r
}

func (p *Permutation) round(i int, half uint64) uint64 {
	return mix(half ^ p.keys[i])
}

// mix is the splitmix64 finalizer
func mix(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
