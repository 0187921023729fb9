package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// throttledReaderAt delays every ReadAt to imitate slow storage.
type throttledReaderAt struct {
	r              io.ReaderAt
	latency        time.Duration
	bytesPerSecond int64

	mu        sync.Mutex
	start     time.Time
	readBytes int64
}

func (t *throttledReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if t.latency > 0 {
		time.Sleep(t.latency)
	}
	n, err := t.r.ReadAt(p, off)
	if n > 0 && t.bytesPerSecond > 0 {
		t.wait(int64(n))
	}
	return n, err
}

func (t *throttledReaderAt) wait(n int64) {
	t.mu.Lock()
	if t.start.IsZero() {
		t.start = time.Now()
	}
	t.readBytes += n
	expected := time.Duration(float64(t.readBytes) / float64(t.bytesPerSecond) * float64(time.Second))
	elapsed := time.Since(t.start)
	t.mu.Unlock()
	if expected > elapsed {
		time.Sleep(expected - elapsed)
	}
}

func parseBytesPerSecond(value string) (int64, error) {
	text := strings.TrimSpace(value)
	text = strings.TrimSuffix(text, "Bps")
	text = strings.TrimSuffix(text, "bps")
	text = strings.TrimSuffix(text, "/s")
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("invalid bytes-per-second %q", value)
	}

	lower := strings.ToLower(text)
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(lower, "kb"):
		multiplier = 1024
		text = text[:len(text)-2]
	case strings.HasSuffix(lower, "k"):
		multiplier = 1024
		text = text[:len(text)-1]
	case strings.HasSuffix(lower, "mb"):
		multiplier = 1024 * 1024
		text = text[:len(text)-2]
	case strings.HasSuffix(lower, "m"):
		multiplier = 1024 * 1024
		text = text[:len(text)-1]
	case strings.HasSuffix(lower, "gb"):
		multiplier = 1024 * 1024 * 1024
		text = text[:len(text)-2]
	case strings.HasSuffix(lower, "g"):
		multiplier = 1024 * 1024 * 1024
		text = text[:len(text)-1]
	}

	text = strings.TrimSpace(text)
	raw, err := strconv.ParseInt(text, 10, 64)
	if err != nil || raw <= 0 {
		return 0, fmt.Errorf("invalid bytes-per-second %q", value)
	}
	return raw * multiplier, nil
}
