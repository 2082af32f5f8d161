package vcam

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// RequestSample serves one frame to the host
//
// This method:
//  1. Rejects the call with ErrNotRunning unless the stream is Running
//  2. Allocates a destination image and locks it for writing
//  3. Copies the latest frame (or the placeholder) into it
//  4. Unlocks the image on every exit path
//  5. Stamps timing metadata and publishes EventSampleReady
//
// token is an optional correlation value echoed back on the sample.
// Safe for concurrent use; transitions wait for in-flight requests.
// EventSampleReady is published after the stream lock is released, so a
// sink may call Pause or Stop from Publish.
func (s *Stream) RequestSample(token any) (*Sample, error) {
	sample, err := s.serveSample(token)
	if err != nil {
		return nil, err
	}

	s.sink.Publish(Event{
		Kind:   EventSampleReady,
		Stream: s.name,
		At:     time.Now(),
		Sample: sample,
	})
	return sample, nil
}

// serveSample does the locked part of RequestSample
func (s *Stream) serveSample(token any) (*Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.shutdown {
		return nil, ErrShutdown
	}
	if s.state != StateRunning {
		return nil, fmt.Errorf("%w: stream is %s", ErrNotRunning, s.state)
	}

	img, err := s.alloc.Allocate()
	if err != nil {
		return nil, fmt.Errorf("allocate sample: %w", err)
	}

	stride, length, err := s.fill(img)
	if err != nil {
		// The caller never sees img, hand it back to the allocator
		if r, ok := img.(interface{ Release() }); ok {
			r.Release()
		}
		return nil, err
	}

	sample := &Sample{
		Seq:      s.requests.Add(1),
		Image:    img,
		Time:     s.nextTick(),
		Duration: s.cfg.FrameDuration(),
		Token:    token,
		TraceID:  uuid.NewString(),
	}

	s.logThroughput(sample.Seq, stride, length)
	return sample, nil
}

// fill locks img, copies the latest frame into it and unlocks it
func (s *Stream) fill(img WritableImage) (stride, length int, err error) {
	buf, stride, err := img.LockForWrite()
	if err != nil {
		return 0, 0, fmt.Errorf("lock sample for write: %w", err)
	}
	defer img.Unlock()

	return stride, len(buf), s.source.CopyLatestFrameInto(buf, stride)
}

// nextTick returns a strictly increasing timestamp in 100ns ticks since origin
func (s *Stream) nextTick() int64 {
	now := int64(time.Since(s.origin) / 100)
	for {
		prev := s.lastTick.Load()
		next := now
		if next <= prev {
			next = prev + 1
		}
		if s.lastTick.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// logThroughput logs on the first request and then at most once per interval
func (s *Stream) logThroughput(count uint64, stride, length int) {
	s.throughputMu.Lock()
	defer s.throughputMu.Unlock()

	if ok, _ := s.throughputLog.Allow(); !ok {
		return
	}

	now := time.Now()
	var rate float64
	if !s.lastLogTime.IsZero() && count > s.lastLogCount {
		if elapsed := now.Sub(s.lastLogTime).Seconds(); elapsed > 0 {
			rate = float64(count-s.lastLogCount) / elapsed
		}
	}
	s.lastLogCount = count
	s.lastLogTime = now

	slog.Info("stream: serving samples",
		"stream", s.name,
		"count", count,
		"stride", stride,
		"length", length,
		"request_fps", rate,
	)
}
