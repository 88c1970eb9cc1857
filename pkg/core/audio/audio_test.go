package audio

import (
	"encoding/base64"
	"encoding/binary"
	"testing"
)

func TestRateFromMIME(t *testing.T) {
	cases := []struct {
		mime string
		want int
	}{
		{"audio/pcm;rate=16000", 16000},
		{"audio/pcm; rate = 44100", 44100},
		{"audio/pcm", 24000},
		{"", 24000},
		{"audio/pcm;rate=11", 24000}, // below the plausible floor
	}
	for _, c := range cases {
		if got := RateFromMIME(c.mime, DefaultRate); got != c.want {
			t.Fatalf("RateFromMIME(%q)=%d, want %d", c.mime, got, c.want)
		}
	}
}

func TestDecodeBase64_SizeLimit(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(make([]byte, 100))
	if _, err := DecodeBase64(payload, 50); err == nil {
		t.Fatalf("expected size error")
	}
	data, err := DecodeBase64(payload, 200)
	if err != nil {
		t.Fatalf("DecodeBase64 error = %v", err)
	}
	if len(data) != 100 {
		t.Fatalf("len=%d, want 100", len(data))
	}
}

func TestDecodeBase64_Empty(t *testing.T) {
	if _, err := DecodeBase64("   ", 0); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestDecodeDataURL(t *testing.T) {
	data, mime, err := DecodeDataURL("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte{1, 2, 3}))
	if err != nil {
		t.Fatalf("DecodeDataURL error = %v", err)
	}
	if mime != "image/png" {
		t.Fatalf("mime=%q, want image/png", mime)
	}
	if len(data) != 3 || data[0] != 1 {
		t.Fatalf("data=%v", data)
	}

	data, mime, err = DecodeDataURL("data:,hello%20world")
	if err != nil {
		t.Fatalf("DecodeDataURL error = %v", err)
	}
	if mime != "text/plain" || string(data) != "hello world" {
		t.Fatalf("mime=%q data=%q", mime, data)
	}

	if _, _, err := DecodeDataURL("http://example.com/a.png"); err == nil {
		t.Fatalf("expected error for non data url")
	}
}

func TestWAVFromPCM16_Header(t *testing.T) {
	pcm := make([]byte, 10)
	wav := WAVFromPCM16(pcm, 16000)
	if len(wav) != 54 {
		t.Fatalf("len=%d, want 54", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad magic: %q %q %q", wav[0:4], wav[8:12], wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("rate=%d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Fatalf("byteRate=%d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 10 {
		t.Fatalf("dataLen=%d, want 10", got)
	}
}

func TestPeakAmplitude(t *testing.T) {
	pcm := make([]byte, 8)
	sample := int16(-16384)
	binary.LittleEndian.PutUint16(pcm[2:4], uint16(sample))
	got := PeakAmplitude(pcm)
	if got < 0.49 || got > 0.51 {
		t.Fatalf("peak=%v, want ~0.5", got)
	}
	if HasSpeech(make([]byte, 64), 0.01) {
		t.Fatalf("silence should not gate as speech")
	}
	if !HasSpeech(pcm, 0.01) {
		t.Fatalf("loud sample should gate as speech")
	}
}
