package audio

import (
	"math"
	"testing"
	"time"
)

func TestInt16RoundTrip(t *testing.T) {
	t.Parallel()
	in := []int16{0, 1, -1, 32767, -32768, 1234}
	got := BytesToInt16s(Int16sToBytes(in))
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], in[i])
		}
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		pcm  []int16
		want float64
	}{
		{name: "empty", pcm: nil, want: 0},
		{name: "silence", pcm: []int16{0, 0, 0, 0}, want: 0},
		{name: "full scale square", pcm: []int16{-32768, -32768}, want: 1},
		{name: "half scale", pcm: []int16{16384, -16384}, want: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := RMS(Int16sToBytes(tt.pcm))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("RMS = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()
	pcm := Int16sToBytes(make([]int16, 480))

	if got := ResampleMono16(pcm, 16000, 16000); len(got) != len(pcm) {
		t.Errorf("same rate: len = %d, want %d", len(got), len(pcm))
	}
	if got := ResampleMono16(pcm, 24000, 16000); len(got) != 320*2 {
		t.Errorf("downsample: len = %d, want %d", len(got), 320*2)
	}
	if got := ResampleMono16(pcm, 16000, 48000); len(got) != 1440*2 {
		t.Errorf("upsample: len = %d, want %d", len(got), 1440*2)
	}
}

func TestAudioFrameDuration(t *testing.T) {
	t.Parallel()
	f := AudioFrame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1}
	if got := f.Duration(); got != 20*time.Millisecond {
		t.Errorf("Duration = %v, want 20ms", got)
	}
	if got := (AudioFrame{Data: make([]byte, 10)}).Duration(); got != 0 {
		t.Errorf("unknown format Duration = %v, want 0", got)
	}
}
