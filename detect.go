package spikesort

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// DetectionMethod selects how per-channel voltage thresholds are derived.
type DetectionMethod string

const (
	// MethodAuto scales each channel's standard deviation by -Thresh.
	MethodAuto DetectionMethod = "auto"
	// MethodManual uses explicit per-channel thresholds from ManualThresh.
	MethodManual DetectionMethod = "manual"
	// MethodMAD scales the median absolute deviation (divided by 0.6745,
	// the MAD of a unit Gaussian) by -Thresh. More robust to spikes
	// contaminating the noise estimate than MethodAuto.
	MethodMAD DetectionMethod = "mad"
)

// madScale converts a median absolute deviation into a Gaussian-equivalent
// standard deviation estimate.
const madScale = 0.6745

// interTrialGap is the fixed spacing in seconds inserted between consecutive
// trials on the unwrapped timeline.
const interTrialGap = 1.0

// DetectionConfig controls threshold-crossing spike detection.
// Start with [DefaultDetectionConfig] and override the fields you need.
type DetectionConfig struct {
	// Method selects the threshold derivation: "auto", "manual", or "mad".
	// Default: "auto".
	Method DetectionMethod

	// Thresh is the noise-scale multiplier k for auto/mad thresholds:
	// threshold = -k * estimate. Ignored for manual. Must be > 0.
	// Default: 4.
	Thresh float64

	// ManualThresh holds one negative threshold per channel when Method is
	// "manual". Length must match the channel count of the first trial.
	ManualThresh []float64

	// WindowMS is the extracted waveform length in milliseconds.
	// Default: 1.5.
	WindowMS float64

	// CrossMS is how much of the window precedes the threshold crossing,
	// in milliseconds. Must be < WindowMS. Default: 0.5.
	CrossMS float64

	// ShadowMS is the minimum spacing between retained detections, in
	// milliseconds. A candidate closer than this to the previously kept
	// one is dropped. Default: 0.75.
	ShadowMS float64

	// MaxJitterMS bounds the search window after a detection when picking
	// the origin channel. Default: 0.4.
	MaxJitterMS float64

	// SampleRate in Hz. 0 means take it from the first trial. Trials with
	// a different rate are rejected.
	SampleRate float64

	// NoiseWindows is the number of randomly placed windows sampled for
	// the background noise covariance. Default: 1000.
	NoiseWindows int

	// Seed drives the noise-window sampler. Fixed seeds give reproducible
	// covariance estimates. Default: 1.
	Seed int64

	// Logger receives per-trial detection records at Debug level.
	// nil disables logging.
	Logger *Logger
}

// DefaultDetectionConfig returns a DetectionConfig with reasonable defaults
// for extracellular recordings sampled in the tens of kHz.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		Method:       MethodAuto,
		Thresh:       4,
		WindowMS:     1.5,
		CrossMS:      0.5,
		ShadowMS:     0.75,
		MaxJitterMS:  0.4,
		NoiseWindows: 1000,
		Seed:         1,
	}
}

// applyDetectionDefaults fills in zero-valued config fields with their defaults.
func applyDetectionDefaults(cfg *DetectionConfig) {
	if cfg.Method == "" {
		cfg.Method = MethodAuto
	}
	if cfg.Thresh == 0 {
		cfg.Thresh = 4
	}
	if cfg.WindowMS == 0 {
		cfg.WindowMS = 1.5
	}
	if cfg.CrossMS == 0 {
		cfg.CrossMS = 0.5
	}
	if cfg.ShadowMS == 0 {
		cfg.ShadowMS = 0.75
	}
	if cfg.MaxJitterMS == 0 {
		cfg.MaxJitterMS = 0.4
	}
	if cfg.NoiseWindows == 0 {
		cfg.NoiseWindows = 1000
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
}

// validateDetectionConfig checks cfg and returns a descriptive error if a
// field is invalid. Unknown methods fail here rather than being silently
// accepted.
func validateDetectionConfig(cfg *DetectionConfig) error {
	switch cfg.Method {
	case MethodAuto, MethodManual, MethodMAD:
	default:
		return &ConfigError{Field: "Method", Reason: fmt.Sprintf("unknown detection method %q", cfg.Method)}
	}
	if cfg.Thresh <= 0 {
		return &ConfigError{Field: "Thresh", Reason: fmt.Sprintf("must be > 0, got %g", cfg.Thresh)}
	}
	if cfg.WindowMS <= 0 {
		return &ConfigError{Field: "WindowMS", Reason: fmt.Sprintf("must be > 0, got %g", cfg.WindowMS)}
	}
	if cfg.CrossMS < 0 || cfg.CrossMS >= cfg.WindowMS {
		return &ConfigError{Field: "CrossMS", Reason: fmt.Sprintf("must be in [0, WindowMS), got %g", cfg.CrossMS)}
	}
	if cfg.ShadowMS < 0 {
		return &ConfigError{Field: "ShadowMS", Reason: fmt.Sprintf("must be >= 0, got %g", cfg.ShadowMS)}
	}
	if cfg.MaxJitterMS < 0 {
		return &ConfigError{Field: "MaxJitterMS", Reason: fmt.Sprintf("must be >= 0, got %g", cfg.MaxJitterMS)}
	}
	if cfg.SampleRate < 0 {
		return &ConfigError{Field: "SampleRate", Reason: fmt.Sprintf("must be >= 0, got %g", cfg.SampleRate)}
	}
	if cfg.NoiseWindows < 2 {
		return &ConfigError{Field: "NoiseWindows", Reason: fmt.Sprintf("must be >= 2, got %d", cfg.NoiseWindows)}
	}
	if cfg.Method == MethodManual {
		if len(cfg.ManualThresh) == 0 {
			return &ConfigError{Field: "ManualThresh", Reason: "required for manual method"}
		}
		for c, v := range cfg.ManualThresh {
			if v >= 0 {
				return &ConfigError{Field: "ManualThresh", Reason: fmt.Sprintf("channel %d threshold must be negative, got %g", c, v)}
			}
		}
	}
	return nil
}

// Session accumulates spike detections across the trials of one recording
// session. The per-channel thresholds are computed from the data of the
// first Detect or Append call and frozen; every later call reuses them
// verbatim instead of re-estimating from the grown dataset. Appends from
// multiple goroutines serialize on the session mutex.
type Session struct {
	cfg DetectionConfig

	mu         sync.Mutex
	frozen     bool
	thresholds []float64 // per channel, negative
	rate       float64
	channels   int
	elapsed    float64 // unwrapped-timeline offset of the next trial
	trials     []Trial // retained for noise covariance sampling
	events     []SpikeEvent
}

// NewSession validates cfg and returns an empty detection session.
func NewSession(cfg DetectionConfig) (*Session, error) {
	applyDetectionDefaults(&cfg)
	if err := validateDetectionConfig(&cfg); err != nil {
		return nil, err
	}
	return &Session{cfg: cfg}, nil
}

// Detect runs threshold-crossing detection over trials and returns the
// events found in them, in trial order. On the session's first call the
// per-channel thresholds are estimated from all trials passed here, then
// frozen for the rest of the session.
func (s *Session) Detect(trials []Trial) ([]SpikeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.frozen && len(trials) > 0 {
		if err := s.freeze(trials); err != nil {
			return nil, err
		}
	}

	var out []SpikeEvent
	for _, t := range trials {
		ev, err := s.appendLocked(t)
		if err != nil {
			return nil, err
		}
		out = append(out, ev...)
	}
	return out, nil
}

// Append detects events in one additional trial. The frozen session
// thresholds are reused unchanged; if the session is empty this behaves
// like the first Detect call.
func (s *Session) Append(t Trial) ([]SpikeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.frozen {
		if err := s.freeze([]Trial{t}); err != nil {
			return nil, err
		}
	}
	return s.appendLocked(t)
}

// Thresholds returns a copy of the frozen per-channel thresholds, or nil if
// no trial has been seen yet.
func (s *Session) Thresholds() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.frozen {
		return nil
	}
	out := make([]float64, len(s.thresholds))
	copy(out, s.thresholds)
	return out
}

// Events returns all events detected so far, in detection order.
func (s *Session) Events() []SpikeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SpikeEvent, len(s.events))
	copy(out, s.events)
	return out
}

// freeze estimates and locks the per-channel thresholds from the given
// trials. Called exactly once per session, under the session mutex.
func (s *Session) freeze(trials []Trial) error {
	first := trials[0]
	channels := first.Channels()
	if channels == 0 {
		return &ConfigError{Field: "trials", Reason: "first trial has no channels"}
	}
	rate := s.cfg.SampleRate
	if rate == 0 {
		rate = first.SampleRate
	}
	if rate <= 0 {
		return &ConfigError{Field: "SampleRate", Reason: "no sampling rate in config or first trial"}
	}

	thresholds := make([]float64, channels)
	switch s.cfg.Method {
	case MethodManual:
		if len(s.cfg.ManualThresh) != channels {
			return &ConfigError{Field: "ManualThresh", Reason: fmt.Sprintf("have %d thresholds for %d channels", len(s.cfg.ManualThresh), channels)}
		}
		copy(thresholds, s.cfg.ManualThresh)
	case MethodAuto, MethodMAD:
		for c := 0; c < channels; c++ {
			est, trial, err := noiseEstimate(trials, c, s.cfg.Method)
			if err != nil {
				return err
			}
			if est == 0 {
				return &DegeneracyError{Trial: trial, Channel: c, Reason: "zero-variance signal, noise-scaled threshold undefined"}
			}
			thresholds[c] = -s.cfg.Thresh * est
		}
	}

	s.thresholds = thresholds
	s.rate = rate
	s.channels = channels
	s.frozen = true
	return nil
}

// noiseEstimate computes one channel's noise scale over all trials:
// standard deviation for auto, MAD/0.6745 for mad. The returned trial index
// identifies a degenerate trial for error reporting (-1 when the estimate
// spans multiple trials).
func noiseEstimate(trials []Trial, channel int, method DetectionMethod) (float64, int, error) {
	var samples []float64
	for i, t := range trials {
		if t.Channels() != 0 && channel >= t.Channels() {
			return 0, i, &ConfigError{Field: "trials", Reason: fmt.Sprintf("trial %d has %d channels, want >= %d", i, t.Channels(), channel+1)}
		}
		for _, row := range t.Data {
			samples = append(samples, row[channel])
		}
	}
	if len(samples) < 2 {
		return 0, -1, &DegeneracyError{Trial: -1, Channel: channel, Reason: "too few samples for a noise estimate"}
	}

	if method == MethodMAD {
		return mad(samples) / madScale, -1, nil
	}
	return stat.StdDev(samples, nil), -1, nil
}

// mad returns the median absolute deviation of x. x is not modified.
func mad(x []float64) float64 {
	dev := make([]float64, len(x))
	copy(dev, x)
	m := median(dev)
	for i := range dev {
		dev[i] = math.Abs(dev[i] - m)
	}
	return median(dev)
}

// median sorts x in place and returns its median.
func median(x []float64) float64 {
	sort.Float64s(x)
	n := len(x)
	if n%2 == 1 {
		return x[n/2]
	}
	return (x[n/2-1] + x[n/2]) / 2
}

// samplesOf converts a duration in milliseconds to a sample count at the
// session rate, rounding to nearest.
func (s *Session) samplesOf(ms float64) int {
	return int(math.Round(ms / 1000 * s.rate))
}

// appendLocked detects events in one trial using the frozen thresholds.
// Caller holds the session mutex.
func (s *Session) appendLocked(t Trial) ([]SpikeEvent, error) {
	trialIdx := len(s.trials)
	if t.Channels() != s.channels {
		return nil, &ConfigError{Field: "trials", Reason: fmt.Sprintf("trial %d has %d channels, session has %d", trialIdx, t.Channels(), s.channels)}
	}
	if t.SampleRate != 0 && t.SampleRate != s.rate {
		return nil, &ConfigError{Field: "trials", Reason: fmt.Sprintf("trial %d sampled at %g Hz, session at %g Hz", trialIdx, t.SampleRate, s.rate)}
	}

	window := s.samplesOf(s.cfg.WindowMS)
	before := s.samplesOf(s.cfg.CrossMS)
	shadow := s.samplesOf(s.cfg.ShadowMS)
	jitter := s.samplesOf(s.cfg.MaxJitterMS)
	if window < 1 {
		window = 1
	}

	events := s.detectTrial(t, trialIdx, window, before, shadow, jitter)

	if l := s.cfg.Logger; l != nil {
		l.Debug("trial detection complete",
			"trial", trialIdx,
			"samples", t.Samples(),
			"events", len(events),
		)
	}

	s.trials = append(s.trials, t)
	s.events = append(s.events, events...)
	s.elapsed += t.Duration() + interTrialGap
	return events, nil
}

// detectTrial scans one trial for downward threshold crossings, suppresses
// candidates inside the shadow period, discards those too close to the
// trial boundaries to extract a full window, and builds the events.
func (s *Session) detectTrial(t Trial, trialIdx, window, before, shadow, jitter int) []SpikeEvent {
	n := t.Samples()
	if n < window || n < 2 {
		// Trial shorter than the extraction window: zero events, valid.
		return nil
	}

	// Downward crossings per channel, summed into a per-sample count.
	// A candidate is any sample with a nonzero count on any channel.
	crossings := make([]int, n)
	for c := 0; c < s.channels; c++ {
		thr := s.thresholds[c]
		for i := 0; i+1 < n; i++ {
			if t.Data[i][c] > thr && t.Data[i+1][c] <= thr {
				crossings[i]++
			}
		}
	}

	var events []SpikeEvent
	last := -1
	for i := 0; i < n; i++ {
		if crossings[i] == 0 {
			continue
		}
		// Shadow suppression: enforce the minimum inter-event spacing
		// before any boundary handling, so a boundary-discarded candidate
		// still shadows its successors.
		if last >= 0 && i-last < shadow {
			continue
		}
		last = i
		if i-before < 0 || i-before+window > n {
			continue
		}

		waveform := make([][]float64, window)
		for w := 0; w < window; w++ {
			waveform[w] = make([]float64, s.channels)
			copy(waveform[w], t.Data[i-before+w])
		}

		time := float64(i) / s.rate
		events = append(events, SpikeEvent{
			Time:          time,
			UnwrappedTime: s.elapsed + time,
			Trial:         trialIdx,
			Channel:       s.originChannel(t, i, jitter),
			Waveform:      waveform,
		})
	}
	return events
}

// originChannel picks the channel with the largest threshold-normalized
// negative excursion within the jitter window after sample i. Ties go to
// the lowest channel index.
func (s *Session) originChannel(t Trial, i, jitter int) int {
	end := i + jitter
	if end > t.Samples()-1 {
		end = t.Samples() - 1
	}
	best, bestScore := 0, math.Inf(-1)
	for c := 0; c < s.channels; c++ {
		low := math.Inf(1)
		for w := i; w <= end; w++ {
			if v := t.Data[w][c]; v < low {
				low = v
			}
		}
		// Both low and the threshold are negative, so a deeper excursion
		// relative to its own threshold scores higher.
		score := low / s.thresholds[c]
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}
