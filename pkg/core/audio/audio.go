// Package audio holds the small PCM helpers shared by the live session
// and the one-shot query path: payload decoding, mime-type rate parsing,
// WAV container synthesis, and the peak-amplitude speech gate.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

const (
	// DefaultRate is the sample rate assumed when a PCM mime type
	// carries no rate parameter. Matches the Gemini Live output rate.
	DefaultRate = 24000

	minRate = 8000
)

var rateRe = regexp.MustCompile(`rate\s*=\s*(\d+)`)

// RateFromMIME extracts the sample rate from a mime type such as
// "audio/pcm;rate=16000". Missing or implausible rates fall back to def.
func RateFromMIME(mime string, def int) int {
	if def <= 0 {
		def = DefaultRate
	}
	m := rateRe.FindStringSubmatch(mime)
	if m == nil {
		return def
	}
	rate, err := strconv.Atoi(m[1])
	if err != nil || rate < minRate {
		return def
	}
	return rate
}

// DecodeBase64 decodes a standard base64 payload, enforcing an upper
// bound on the decoded size. maxBytes <= 0 means unbounded.
func DecodeBase64(s string, maxBytes int) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty payload")
	}
	if maxBytes > 0 && base64.StdEncoding.DecodedLen(len(s)) > maxBytes+3 {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxBytes)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	if maxBytes > 0 && len(data) > maxBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxBytes)
	}
	return data, nil
}

var dataURLRe = regexp.MustCompile(`^data:([^;,]+)?(;base64)?,(.*)$`)

// DecodeDataURL splits a data: URL into its decoded bytes and mime type.
// Both base64 and percent-encoded payloads are accepted.
func DecodeDataURL(s string) (data []byte, mime string, err error) {
	m := dataURLRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil, "", fmt.Errorf("not a data url")
	}
	mime = m[1]
	if mime == "" {
		mime = "text/plain"
	}
	if m[2] == ";base64" {
		data, err = base64.StdEncoding.DecodeString(m[3])
		if err != nil {
			return nil, "", fmt.Errorf("decode data url: %w", err)
		}
		return data, mime, nil
	}
	raw, err := url.QueryUnescape(m[3])
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	return []byte(raw), mime, nil
}

// WAVFromPCM16 wraps raw little-endian 16-bit mono PCM in a minimal
// 44-byte RIFF/WAVE header so browsers can play it directly.
func WAVFromPCM16(pcm []byte, rate int) []byte {
	if rate <= 0 {
		rate = DefaultRate
	}
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := rate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], channels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

// PeakAmplitude returns the largest absolute sample in a s16le mono
// buffer, normalized to [0, 1]. A trailing odd byte is ignored.
func PeakAmplitude(pcm []byte) float64 {
	var peak int32
	for i := 0; i+1 < len(pcm); i += 2 {
		s := int32(int16(binary.LittleEndian.Uint16(pcm[i : i+2])))
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak) / 32768.0
}

// HasSpeech reports whether the buffer's peak amplitude clears the
// normalized threshold.
func HasSpeech(pcm []byte, threshold float64) bool {
	return PeakAmplitude(pcm) > threshold
}
