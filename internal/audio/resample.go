package audio

// Convert returns t at sampleRate and channels. The input is returned as is
// when it already matches.
func Convert(t *Track, sampleRate, channels int) *Track {
	out := t
	if out.Channels != channels {
		out = remix(out, channels)
	}
	if out.SampleRate != sampleRate {
		out = resample(out, sampleRate)
	}
	return out
}

func remix(t *Track, channels int) *Track {
	frames := t.Frames()
	out := make([]int16, frames*channels)
	for f := 0; f < frames; f++ {
		src := t.Samples[f*t.Channels : (f+1)*t.Channels]
		if channels == 1 {
			var sum int32
			for _, s := range src {
				sum += int32(s)
			}
			out[f] = int16(sum / int32(len(src)))
			continue
		}
		for c := 0; c < channels; c++ {
			out[f*channels+c] = src[c%t.Channels]
		}
	}
	return &Track{SampleRate: t.SampleRate, Channels: channels, Samples: out}
}

// resample uses linear interpolation with no anti-alias filter, so content
// above the new Nyquist folds back. LoadTrack only reaches it when no
// Transcoder is configured. The output keeps the input duration.
func resample(t *Track, sampleRate int) *Track {
	inFrames := t.Frames()
	outFrames := int((int64(inFrames)*int64(sampleRate) + int64(t.SampleRate)/2) / int64(t.SampleRate))
	out := make([]int16, outFrames*t.Channels)
	if inFrames == 0 {
		return &Track{SampleRate: sampleRate, Channels: t.Channels, Samples: out}
	}
	step := float64(t.SampleRate) / float64(sampleRate)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * step
		i := int(pos)
		frac := pos - float64(i)
		j := i + 1
		if i >= inFrames {
			i = inFrames - 1
		}
		if j >= inFrames {
			j = inFrames - 1
		}
		for c := 0; c < t.Channels; c++ {
			a := float64(t.Samples[i*t.Channels+c])
			b := float64(t.Samples[j*t.Channels+c])
			out[f*t.Channels+c] = int16(a + (b-a)*frac)
		}
	}
	return &Track{SampleRate: sampleRate, Channels: t.Channels, Samples: out}
}
