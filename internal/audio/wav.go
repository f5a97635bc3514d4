package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// errNotPCMWAV marks files the native decoder cannot read (compressed, float or
// non-WAV containers); those are handed to a Transcoder.
var errNotPCMWAV = errors.New("not an integer PCM wav file")

var errRateMismatch = errors.New("sample rate mismatch")

// Transcoder converts an arbitrary audio file into 16-bit PCM WAV at the given
// rate and channel count.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string, sampleRate, channels int) error
}

// ReadWAV decodes an integer PCM WAV file into a Track at its native format.
func ReadWAV(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", path, errNotPCMWAV)
	}
	if dec.WavAudioFormat != wavFormatPCM {
		return nil, fmt.Errorf("%s: wav format %d: %w", path, dec.WavAudioFormat, errNotPCMWAV)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, fmt.Errorf("%s: missing format: %w", path, errNotPCMWAV)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = to16(v, buf.SourceBitDepth)
	}
	// Drop a trailing partial frame.
	if rem := len(samples) % buf.Format.NumChannels; rem != 0 {
		samples = samples[:len(samples)-rem]
	}
	return &Track{
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
		Samples:    samples,
	}, nil
}

// WriteWAV encodes t as 16-bit PCM WAV at path, creating parent directories.
func WriteWAV(path string, t *Track) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(f, t.SampleRate, BitDepth, t.Channels, wavFormatPCM)
	data := make([]int, len(t.Samples))
	for i, s := range t.Samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: t.Channels, SampleRate: t.SampleRate},
		Data:           data,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize %s: %w", path, err)
	}
	return f.Close()
}

// LoadTrack reads the audio at path and returns it at sampleRate/channels.
// PCM WAV input at sampleRate is decoded in process. Other containers, and WAV
// at a different rate, are transcoded into tmpDir through tc so resampling
// gets a proper low-pass. Without tc a rate mismatch falls back to the
// in-process resampler.
func LoadTrack(ctx context.Context, path string, sampleRate, channels int, tmpDir string, tc Transcoder) (*Track, error) {
	var (
		t   *Track
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		t, err = ReadWAV(path)
	} else {
		err = errNotPCMWAV
	}
	if err == nil && t.SampleRate != sampleRate && tc != nil {
		err = errRateMismatch
	}
	if errors.Is(err, errNotPCMWAV) || errors.Is(err, errRateMismatch) {
		if tc == nil {
			return nil, err
		}
		tmp, ferr := os.CreateTemp(tmpDir, "decoded_*.wav")
		if ferr != nil {
			return nil, ferr
		}
		tmp.Close()
		defer os.Remove(tmp.Name())
		if err := tc.Transcode(ctx, path, tmp.Name(), sampleRate, channels); err != nil {
			return nil, fmt.Errorf("transcode %s: %w", path, err)
		}
		t, err = ReadWAV(tmp.Name())
	}
	if err != nil {
		return nil, err
	}
	return Convert(t, sampleRate, channels), nil
}

// Prober reports the duration of an audio file it cannot decode natively.
type Prober interface {
	ProbeDurationMs(ctx context.Context, path string) (int64, error)
}

// MeasureDurationMs returns the length of the audio file at path in
// milliseconds. PCM WAV files are measured by decoding; other containers go
// to p, which may be nil when only WAV input is expected.
func MeasureDurationMs(ctx context.Context, path string, p Prober) (int64, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		t, err := ReadWAV(path)
		if err == nil {
			return t.DurationMs(), nil
		}
		if !errors.Is(err, errNotPCMWAV) {
			return 0, err
		}
	}
	if p == nil {
		return 0, fmt.Errorf("%s: %w", path, errNotPCMWAV)
	}
	return p.ProbeDurationMs(ctx, path)
}

func to16(v, bitDepth int) int16 {
	switch bitDepth {
	case 8:
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return clip(int32(v))
	}
}
