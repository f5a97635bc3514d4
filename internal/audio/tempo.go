package audio

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// MinTempo and MaxTempo bound what a single atempo stage accepts.
	MinTempo = 0.5
	MaxTempo = 2.0

	unityEpsilon = 1e-9
)

// TempoChain is an ordered list of tempo stages, each within [MinTempo, MaxTempo].
// Applying every stage in turn scales playback speed by the chain's Product.
type TempoChain []float64

// TempoFactor returns actualMs / targetMs. A factor above 1 shortens the clip,
// below 1 lengthens it.
func TempoFactor(actualMs, targetMs int64) (float64, error) {
	if targetMs <= 0 {
		return 0, fmt.Errorf("%w: target duration %dms", ErrInvalidDuration, targetMs)
	}
	if actualMs <= 0 {
		return 0, fmt.Errorf("%w: actual duration %dms", ErrInvalidDuration, actualMs)
	}
	return float64(actualMs) / float64(targetMs), nil
}

// BuildTempoChain decomposes factor into bounded stages. An in-range factor is
// a single stage; out-of-range factors are reduced by whole 2.0 or 0.5 stages
// and finished with one stage for the remainder. Halving and doubling are
// exact in binary floating point, so the remainder carries no rounding error.
// A factor of 1 yields an empty chain.
func BuildTempoChain(factor float64) (TempoChain, error) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return nil, fmt.Errorf("tempo factor %v is not a positive finite number", factor)
	}
	if math.Abs(factor-1) <= unityEpsilon {
		return nil, nil
	}
	if factor >= MinTempo && factor <= MaxTempo {
		return TempoChain{factor}, nil
	}

	var chain TempoChain
	remaining := factor
	for remaining > MaxTempo {
		chain = append(chain, MaxTempo)
		remaining /= MaxTempo
	}
	for remaining < MinTempo {
		chain = append(chain, MinTempo)
		remaining /= MinTempo
	}
	if math.Abs(remaining-1) > unityEpsilon {
		chain = append(chain, remaining)
	}
	return chain, nil
}

// Product multiplies the stages back together. An empty chain is 1.
func (c TempoChain) Product() float64 {
	p := 1.0
	for _, f := range c {
		p *= f
	}
	return p
}

// FilterString renders the chain as an ffmpeg audio filter graph,
// e.g. "atempo=2,atempo=1.75".
func (c TempoChain) FilterString() string {
	parts := make([]string, len(c))
	for i, f := range c {
		parts[i] = "atempo=" + strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
