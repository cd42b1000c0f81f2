package replay

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/himanishpuri/ReverseMapper/internal/timeline"
	"github.com/ulikunitz/xz/lzma"
)

// SeedFrameDelta marks the trailing frame whose button field carries the
// session's random seed.
const SeedFrameDelta = -12345

// FrameText renders samples as "delta|x|y|buttons" joined by commas, with
// coordinates rounded to integers, followed by the seed frame.
func FrameText(samples []timeline.Sample, seed int32) string {
	var b strings.Builder
	b.Grow(len(samples)*16 + 24)
	for i, s := range samples {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(s.DeltaMs, 10))
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(int64(math.Round(s.X)), 10))
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(int64(math.Round(s.Y)), 10))
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(int64(s.Buttons), 10))
	}
	fmt.Fprintf(&b, ",%d|0|0|%d", SeedFrameDelta, seed)
	return b.String()
}

// ParseFrameText is the inverse of FrameText. Coordinates may be fractional,
// as they are in replays written by the game client. The seed is 0 when the
// seed frame is absent.
func ParseFrameText(text string) ([]timeline.Sample, int32, error) {
	var samples []timeline.Sample
	var seed int32
	for i, frame := range strings.Split(text, ",") {
		if strings.TrimSpace(frame) == "" {
			continue
		}
		parts := strings.Split(frame, "|")
		if len(parts) != 4 {
			return nil, 0, fmt.Errorf("frame %d: expected 4 fields, got %d", i, len(parts))
		}
		delta, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return nil, 0, fmt.Errorf("frame %d delta: %w", i, err)
		}
		x, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, 0, fmt.Errorf("frame %d x: %w", i, err)
		}
		y, err := strconv.ParseFloat(parts[2], 64)
		if err != nil {
			return nil, 0, fmt.Errorf("frame %d y: %w", i, err)
		}
		buttons, err := strconv.ParseInt(parts[3], 10, 32)
		if err != nil {
			return nil, 0, fmt.Errorf("frame %d buttons: %w", i, err)
		}

		if delta == SeedFrameDelta {
			seed = int32(buttons)
			continue
		}
		samples = append(samples, timeline.Sample{DeltaMs: delta, X: x, Y: y, Buttons: int32(buttons)})
	}
	return samples, seed, nil
}

// DictCap is the dictionary size of the strongest preset of the reference
// LZMA encoder.
const DictCap = 8 << 20

// Compress encodes text as a classic .lzma stream (13-byte header with the
// uncompressed size, no end marker), which is what the replay reader expects.
func Compress(text string) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{
		Properties:   &lzma.Properties{LC: 3, LP: 0, PB: 2},
		DictCap:      DictCap,
		Matcher:      lzma.BinaryTree,
		SizeInHeader: true,
		Size:         int64(len(text)),
	}
	if err := cfg.Verify(); err != nil {
		return nil, fmt.Errorf("lzma config: %w", err)
	}

	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("lzma writer: %w", err)
	}
	if _, err := io.WriteString(w, text); err != nil {
		return nil, fmt.Errorf("lzma write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lzma close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reads a classic .lzma stream.
func Decompress(payload []byte) (string, error) {
	r, err := lzma.NewReader(bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("lzma reader: %w", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("lzma read: %w", err)
	}
	return string(out), nil
}
