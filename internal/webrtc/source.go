package webrtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/h264reader"

	"vico_home/actorcast/internal/domain"
)

// FileSource loops an Annex-B H264 file into a single video track.
type FileSource struct {
	id    string
	path  string
	fps   int
	track *Track
	log   logging.LeveledLogger
}

// NewFileSource creates a looping file source. The file is opened by Run.
func NewFileSource(id, path string, fps int, lf logging.LoggerFactory) (*FileSource, error) {
	if fps <= 0 {
		fps = 30
	}
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	track, err := NewTrack(domain.KindVideo, id+"-video", id)
	if err != nil {
		return nil, err
	}
	return &FileSource{
		id:    id,
		path:  path,
		fps:   fps,
		track: track,
		log:   lf.NewLogger("source"),
	}, nil
}

func (s *FileSource) ID() string { return s.id }

func (s *FileSource) Tracks() []domain.Track { return []domain.Track{s.track} }

// Run writes frames at the configured rate, rewinding at EOF, until ctx ends.
func (s *FileSource) Run(ctx context.Context) error {
	frame := time.Second / time.Duration(s.fps)
	ticker := time.NewTicker(frame)
	defer ticker.Stop()

	for {
		if err := s.playOnce(ctx, ticker, frame); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (s *FileSource) playOnce(ctx context.Context, ticker *time.Ticker, frame time.Duration) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	reader, err := h264reader.NewReader(f)
	if err != nil {
		return fmt.Errorf("h264 reader: %w", err)
	}

	for {
		nal, err := reader.NextNAL()
		if err == io.EOF {
			s.log.Debugf("%s: rewinding", s.id)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read nal: %w", err)
		}

		// Parameter sets ride along with the next slice without a tick.
		if nal.UnitType == h264reader.NalUnitTypeSPS || nal.UnitType == h264reader.NalUnitTypePPS {
			if err := s.track.WriteSample(media.Sample{Data: annexB(nal.Data)}); err != nil {
				return fmt.Errorf("write sample: %w", err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := s.track.WriteSample(media.Sample{Data: annexB(nal.Data), Duration: frame}); err != nil {
			return fmt.Errorf("write sample: %w", err)
		}
	}
}

func annexB(nal []byte) []byte {
	return append([]byte{0x00, 0x00, 0x00, 0x01}, nal...)
}
