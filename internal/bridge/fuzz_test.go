// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// buildRandomEnvelope encodes an envelope with a random type and payload.
func buildRandomEnvelope(rng *rand.Rand) []byte {
	payload := make(map[int]interface{})
	numEntries := rng.Intn(4)
	for i := 0; i < numEntries; i++ {
		key := rng.Intn(8)
		switch rng.Intn(3) {
		case 0:
			payload[key] = rng.Int63()
		case 1:
			data := make([]byte, rng.Intn(24))
			rng.Read(data)
			payload[key] = data
		case 2:
			payload[key] = "AA:BB:CC:DD:EE:FF"
		}
	}
	env := Envelope{Type: uint8(rng.Intn(256))}
	if len(payload) > 0 {
		env.Payload = payload
	}
	data, err := EncodeEnvelope(env)
	if err != nil {
		data, _ = EncodeEnvelope(Envelope{Type: env.Type})
	}
	return data
}

// TestFuzzFrameDecoder_RandomBytes feeds random bytes to the decoder
// and verifies it doesn't crash or panic
func TestFuzzFrameDecoder_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewFrameDecoder()

		length := rng.Intn(512) + 1
		data := make([]byte, length)
		rng.Read(data)

		for _, b := range data {
			d.DecodeByte(b)
		}
	}
}

// TestFuzzFrameDecoder_RoundTrip encodes random envelopes and verifies
// the stream decoder recovers each one exactly
func TestFuzzFrameDecoder_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewFrameDecoder()
		envelope := buildRandomEnvelope(rng)

		frame, err := EncodeFrame(envelope)
		if err != nil {
			t.Fatalf("Round %d: encode: %v", i, err)
		}

		var decoded []byte
		for _, b := range frame {
			out, err := d.DecodeByte(b)
			if err != nil {
				t.Fatalf("Round %d: decode error: %v", i, err)
			}
			if out != nil {
				decoded = out
			}
		}
		if !bytes.Equal(decoded, envelope) {
			t.Errorf("Round %d: round trip mismatch: % X != % X", i, decoded, envelope)
		}
	}
}

// TestFuzzFrameDecoder_CorruptedFrames flips one framed byte and
// verifies the decoder survives whatever the corruption produces
func TestFuzzFrameDecoder_CorruptedFrames(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewFrameDecoder()
		envelope := buildRandomEnvelope(rng)

		frame, err := EncodeFrame(envelope)
		if err != nil {
			t.Fatalf("Round %d: encode: %v", i, err)
		}

		// Corrupt a random byte between the START and END markers.
		if len(frame) > 2 {
			idx := rng.Intn(len(frame)-2) + 1
			frame[idx] ^= byte(rng.Intn(255) + 1)
		}

		for _, b := range frame {
			d.DecodeByte(b)
		}
	}
}

// TestFuzzFrameDecoder_Resync verifies a decoder joining mid-garbage
// still recovers the next complete frame
func TestFuzzFrameDecoder_Resync(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		d := NewFrameDecoder()

		// Leading garbage, avoiding the START and ESC markers so the
		// frame boundary stays unambiguous.
		garbageLen := rng.Intn(64)
		for j := 0; j < garbageLen; j++ {
			b := byte(rng.Intn(256))
			if b == startByte || b == escByte {
				b = 0x00
			}
			d.DecodeByte(b)
		}

		envelope := buildRandomEnvelope(rng)
		frame, err := EncodeFrame(envelope)
		if err != nil {
			t.Fatalf("Round %d: encode: %v", i, err)
		}

		var decoded []byte
		for _, b := range frame {
			out, err := d.DecodeByte(b)
			if err != nil {
				t.Fatalf("Round %d: decode error after garbage: %v", i, err)
			}
			if out != nil {
				decoded = out
			}
		}
		if !bytes.Equal(decoded, envelope) {
			t.Errorf("Round %d: resync mismatch: % X != % X", i, decoded, envelope)
		}
	}
}

// TestFuzzDecodeEnvelope_RandomBytes feeds random bytes to the envelope
// decoder and verifies it doesn't crash or panic
func TestFuzzDecodeEnvelope_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		length := rng.Intn(128)
		data := make([]byte, length)
		rng.Read(data)
		DecodeEnvelope(data)
	}
}
