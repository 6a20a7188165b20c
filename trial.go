package spikesort

// Trial is one contiguous multi-channel voltage recording.
// Data is sample-major: Data[i][c] is the voltage of channel c at sample i.
type Trial struct {
	Data       [][]float64
	SampleRate float64
}

// Samples returns the number of samples in the trial.
func (t Trial) Samples() int { return len(t.Data) }

// Channels returns the number of recorded channels, or 0 for an empty trial.
func (t Trial) Channels() int {
	if len(t.Data) == 0 {
		return 0
	}
	return len(t.Data[0])
}

// Duration returns the trial length in seconds.
func (t Trial) Duration() float64 {
	if t.SampleRate <= 0 {
		return 0
	}
	return float64(len(t.Data)) / t.SampleRate
}

// SpikeEvent is one detected threshold crossing together with its extracted
// waveform snippet. Events are immutable once created; downstream quality
// filters may remove events but never modify them.
type SpikeEvent struct {
	// Time is the detection time in seconds from the start of the trial.
	Time float64

	// UnwrappedTime places the event on a single timeline spanning all
	// trials in the session, with a fixed gap inserted between trials.
	UnwrappedTime float64

	// Trial is the 0-indexed position of the originating trial within the
	// session.
	Trial int

	// Channel is the origin channel: the channel with the largest
	// threshold-normalized negative excursion near the detection sample.
	Channel int

	// Waveform is the extracted snippet, window-sample-major:
	// Waveform[i][c] is channel c at window sample i.
	Waveform [][]float64
}
