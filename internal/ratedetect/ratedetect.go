// Package ratedetect estimates the frame rate of a video track from its
// decode timestamps.
package ratedetect

import (
	"fmt"
	"math"
	"time"
)

// window of timestamps retained by the detector
const window = 1002 * time.Millisecond

// Detector tracks the frame rate of an incoming video stream
type Detector struct {
	times []time.Duration
}

// Append a video sample timestamp. Timestamps that go backwards restart the
// estimate.
func (d *Detector) Append(t time.Duration) {
	if z := len(d.times); z > 0 && t < d.times[z-1] {
		d.times = d.times[:0]
	}
	d.times = append(d.times, t)
	z := len(d.times) - 1
	// retain about a second worth of times
	for z > 1 && d.times[z]-d.times[0] > window {
		copy(d.times, d.times[1:])
		d.times = d.times[:z]
		z--
	}
}

// Rate returns estimated framerate of the stream
func (d *Detector) Rate() Rate {
	z := len(d.times) - 1
	if z < 1 {
		return Rate{}
	}
	elapsed := (d.times[z] - d.times[0]).Seconds()
	if elapsed <= 0 {
		return Rate{}
	}
	rate := float64(z) / elapsed
	if r, ok := matches(rate, 1); ok {
		return r
	} else if r, ok = matches(rate, 1001); ok {
		return r
	}
	return Rate{Float: rate}
}

func matches(rate float64, denom int) (Rate, bool) {
	df := float64(denom)
	num := int(math.Round(rate * df))
	if denom != 1 {
		// NTSC style rates are a multiple of 1000/1001
		num = int(math.Round(rate*df/1000)) * 1000
	}
	if math.Round(float64(num)/df*100) == math.Round(rate*100) {
		return Rate{
			Numerator:   num,
			Denominator: denom,
			Float:       rate,
		}, true
	}
	return Rate{}, false
}

// Rate of stream in frames per second
type Rate struct {
	// Numerator of fractional rate
	Numerator int
	// Denominator of fractional rate. 1 if rate is integral, 0 if rate is floating-point
	Denominator int
	// Float value of rate
	Float float64
}

// IsZero reports whether no rate has been detected
func (r Rate) IsZero() bool {
	return r.Numerator == 0 && r.Float == 0
}

// FrameDuration returns the duration of a single frame at this rate
func (r Rate) FrameDuration() time.Duration {
	switch {
	case r.Denominator != 0 && r.Numerator != 0:
		return time.Duration(r.Denominator) * time.Second / time.Duration(r.Numerator)
	case r.Float > 0:
		return time.Duration(float64(time.Second) / r.Float)
	}
	return 0
}

// String formats the frame rate as an integer, ratio or float
func (r Rate) String() string {
	if r.IsZero() {
		return ""
	}
	switch r.Denominator {
	case 0:
		return fmt.Sprintf("%.2f", r.Float)
	case 1:
		return fmt.Sprintf("%d", r.Numerator)
	default:
		return fmt.Sprintf("%d/%d", r.Numerator, r.Denominator)
	}
}
