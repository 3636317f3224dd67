package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Framerate is an exact frames-per-second ratio.
type Framerate struct {
	rat *big.Rat
}

var namedRates = map[string]string{
	"ntsc":      "30000/1001",
	"pal":       "25/1",
	"film":      "24/1",
	"ntsc-film": "24000/1001",
}

// ParseFramerate accepts a name (ntsc, pal, film, ntsc-film), a decimal like
// "29.97" or a ratio like "30000/1001".
func ParseFramerate(s string) (Framerate, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if named, ok := namedRates[s]; ok {
		s = named
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok || r.Sign() <= 0 {
		return Framerate{}, fmt.Errorf("config: invalid framerate %q", s)
	}
	if d := periodOf(r); d <= 0 {
		return Framerate{}, fmt.Errorf("config: framerate %q too high", s)
	}
	return Framerate{rat: r}, nil
}

// Period is the frame spacing, rounded to the nearest nanosecond.
func (f Framerate) Period() time.Duration {
	if f.rat == nil {
		return 0
	}
	return periodOf(f.rat)
}

// FPS returns the rate as a float for display.
func (f Framerate) FPS() float64 {
	if f.rat == nil {
		return 0
	}
	v, _ := f.rat.Float64()
	return v
}

func (f Framerate) String() string {
	if f.rat == nil {
		return "0/1"
	}
	return f.rat.String()
}

func periodOf(r *big.Rat) time.Duration {
	// period = 1e9 * den / num
	p := new(big.Rat).SetFrac(
		new(big.Int).Mul(big.NewInt(int64(time.Second)), r.Denom()),
		r.Num(),
	)
	n := new(big.Int).Quo(new(big.Int).Add(new(big.Int).Mul(p.Num(), big.NewInt(2)), p.Denom()), new(big.Int).Mul(p.Denom(), big.NewInt(2)))
	if !n.IsInt64() {
		return 0
	}
	return time.Duration(n.Int64())
}
