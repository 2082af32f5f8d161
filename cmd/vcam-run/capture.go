package main

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/config"
	"github.com/e7canasta/orion-care-sensor/modules/virtual-camera/internal/nv12"
)

type capturedFrame struct {
	seq uint64
	at  time.Time
	img *image.YCbCr
}

// frameSaver encodes frames to disk off the request loop
type frameSaver struct {
	cfg           config.CaptureConfig
	width, height int
	queue         chan capturedFrame

	saved   atomic.Uint64
	skipped atomic.Uint64
	errors  atomic.Uint64
}

// newFrameSaver returns nil when capture is disabled
func newFrameSaver(cfg config.CaptureConfig, width, height int) *frameSaver {
	if cfg.OutputDir == "" {
		return nil
	}
	return &frameSaver{
		cfg:    cfg,
		width:  width,
		height: height,
		queue:  make(chan capturedFrame, 4),
	}
}

// offer converts the frame and queues it; a full queue skips the frame
func (s *frameSaver) offer(seq uint64, frame []byte, stride int) {
	img, err := nv12.ToYCbCr(frame, stride, s.width, s.height)
	if err != nil {
		s.errors.Add(1)
		slog.Error("failed to convert frame", "error", err, "seq", seq)
		return
	}

	select {
	case s.queue <- capturedFrame{seq: seq, at: time.Now(), img: img}:
	default:
		s.skipped.Add(1)
	}
}

func (s *frameSaver) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.queue:
			if err := saveFrame(s.cfg.OutputDir, f, s.cfg.Format, s.cfg.Quality); err != nil {
				s.errors.Add(1)
				slog.Error("failed to save frame", "error", err, "seq", f.seq)
				continue
			}
			s.saved.Add(1)
		}
	}
}

func (s *frameSaver) counts() (saved, skipped, errors uint64) {
	return s.saved.Load(), s.skipped.Load(), s.errors.Load()
}

// saveFrame saves a frame to disk as PNG or JPEG
func saveFrame(outputDir string, frame capturedFrame, format string, jpegQuality int) error {
	filename := fmt.Sprintf("frame_%06d_%s.%s", frame.seq, frame.at.Format("20060102_150405.000"), format)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	switch format {
	case "png":
		if err := png.Encode(file, frame.img); err != nil {
			return fmt.Errorf("failed to encode PNG: %w", err)
		}
	case "jpeg":
		if err := jpeg.Encode(file, frame.img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return fmt.Errorf("failed to encode JPEG: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	return nil
}
