package speaking

import (
	"math"
	"sync"
	"time"
)

// Detector defaults, matching the browser speech detector the mesh clients use.
const (
	DefaultThreshold = -50.0
	DefaultInterval  = 50 * time.Millisecond
	DefaultHistory   = 10

	// MinLevel is reported for digital silence.
	MinLevel = -127.0
)

// DetectorOptions tune a Detector.
type DetectorOptions struct {
	// Threshold in dBFS above which a sample counts as voiced.
	Threshold float64
	// History is how many past samples must all be quiet before
	// speech is considered stopped.
	History int
}

// Detector turns a stream of audio levels into speaking/stopped transitions.
// Speech starts quickly (two of the last three samples voiced plus the
// current one) and stops slowly (the whole history quiet).
type Detector struct {
	mu        sync.Mutex
	threshold float64
	history   []bool
	speaking  bool
	onChange  func(speaking bool)
}

// NewDetector builds a detector that calls onChange on every transition.
func NewDetector(opts DetectorOptions, onChange func(speaking bool)) *Detector {
	if opts.History < 3 {
		opts.History = DefaultHistory
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	return &Detector{
		threshold: opts.Threshold,
		history:   make([]bool, opts.History),
		onChange:  onChange,
	}
}

// Feed processes one level sample in dBFS.
func (d *Detector) Feed(level float64) {
	d.mu.Lock()
	voiced := level > d.threshold
	changed := false

	switch {
	case voiced && !d.speaking:
		n := 0
		for _, v := range d.history[len(d.history)-3:] {
			if v {
				n++
			}
		}
		if n >= 2 {
			d.speaking = true
			changed = true
		}
	case !voiced && d.speaking:
		quiet := true
		for _, v := range d.history {
			if v {
				quiet = false
				break
			}
		}
		if quiet {
			d.speaking = false
			changed = true
		}
	}

	copy(d.history, d.history[1:])
	d.history[len(d.history)-1] = voiced

	speaking := d.speaking
	d.mu.Unlock()

	if changed && d.onChange != nil {
		d.onChange(speaking)
	}
}

// Speaking reports the current state.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Meter accumulates PCM and feeds the detector one level per interval.
type Meter struct {
	detector  *Detector
	perWindow int
	sumSq     float64
	count     int
}

// NewMeter creates a meter for mono PCM at sampleRate.
func NewMeter(d *Detector, sampleRate int, interval time.Duration) *Meter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	per := int(int64(sampleRate) * int64(interval) / int64(time.Second))
	if per < 1 {
		per = 1
	}
	return &Meter{detector: d, perWindow: per}
}

// Write consumes 16-bit PCM samples.
func (m *Meter) Write(pcm []int16) {
	for _, s := range pcm {
		f := float64(s)
		m.sumSq += f * f
		m.count++
		if m.count == m.perWindow {
			m.detector.Feed(levelFromSumSq(m.sumSq, m.count))
			m.sumSq, m.count = 0, 0
		}
	}
}

// Level returns the RMS level of pcm in dBFS.
func Level(pcm []int16) float64 {
	var sumSq float64
	for _, s := range pcm {
		f := float64(s)
		sumSq += f * f
	}
	return levelFromSumSq(sumSq, len(pcm))
}

func levelFromSumSq(sumSq float64, n int) float64 {
	if n == 0 || sumSq == 0 {
		return MinLevel
	}
	rms := math.Sqrt(sumSq/float64(n)) / 32768.0
	db := 20 * math.Log10(rms)
	return math.Max(db, MinLevel)
}
