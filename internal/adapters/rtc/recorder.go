package rtc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dkeye/one2many/internal/app/sfu"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

var ErrRecorderReleased = errors.New("recorder released")

type mediaWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// fileWriter lets the recorder swap the underlying file while relays keep
// writing to the same OutTrack.
type fileWriter struct {
	ext  string
	open func(path string) (mediaWriter, error)

	mu sync.Mutex
	w  mediaWriter
}

func (f *fileWriter) WriteRTP(pkt *rtp.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return nil
	}
	return f.w.WriteRTP(pkt)
}

// swap opens path and closes the previous file.
func (f *fileWriter) swap(path string) error {
	next, err := f.open(path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	prev := f.w
	f.w = next
	f.mu.Unlock()
	if prev != nil {
		return prev.Close()
	}
	return nil
}

func (f *fileWriter) close() error {
	f.mu.Lock()
	prev := f.w
	f.w = nil
	f.mu.Unlock()
	if prev != nil {
		return prev.Close()
	}
	return nil
}

// Recorder writes the media of the endpoints connected to it into
// basePath-NNN.ivf (VP8) and basePath-NNN.ogg (Opus).
type Recorder struct {
	id       string
	basePath string
	pipeline *Pipeline

	video    *fileWriter
	audio    *fileWriter
	videoOut *sfu.OutTrack
	audioOut *sfu.OutTrack

	mu        sync.Mutex
	part      int
	recording bool
	released  bool
	files     []string
}

func newRecorder(id, basePath string, p *Pipeline) *Recorder {
	video := &fileWriter{ext: "ivf", open: func(path string) (mediaWriter, error) {
		return ivfwriter.New(path)
	}}
	audio := &fileWriter{ext: "ogg", open: func(path string) (mediaWriter, error) {
		return oggwriter.New(path, 48000, 2)
	}}
	return &Recorder{
		id:       id,
		basePath: basePath,
		pipeline: p,
		video:    video,
		audio:    audio,
		videoOut: sfu.NewMutedOutTrack(video),
		audioOut: sfu.NewMutedOutTrack(audio),
	}
}

func (r *Recorder) elementID() string { return r.id }

func (r *Recorder) Record(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return ErrRecorderReleased
	}
	if r.recording {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.basePath), 0o755); err != nil {
		return fmt.Errorf("create recording dir: %w", err)
	}
	if err := r.openPartLocked(); err != nil {
		return err
	}
	r.recording = true
	r.videoOut.MarkOk()
	r.audioOut.MarkOk()
	log.Info().Str("module", "rtc").Str("recorder", r.id).Str("base", r.basePath).Msg("recording started")
	return nil
}

func (r *Recorder) Rotate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return ErrRecorderReleased
	}
	if !r.recording {
		return errors.New("recorder is not recording")
	}
	r.part++
	return r.openPartLocked()
}

func (r *Recorder) openPartLocked() error {
	for _, fw := range []*fileWriter{r.video, r.audio} {
		path := fmt.Sprintf("%s-%03d.%s", r.basePath, r.part, fw.ext)
		if err := fw.swap(path); err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		r.files = append(r.files, path)
	}
	return nil
}

func (r *Recorder) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.files))
	copy(out, r.files)
	return out
}

func (r *Recorder) Release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	r.mu.Unlock()

	r.videoOut.MarkDelete()
	r.audioOut.MarkDelete()
	for _, fw := range []*fileWriter{r.video, r.audio} {
		if err := fw.close(); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("recorder", r.id).Msg("close recording file")
		}
	}
	r.pipeline.detach(r.id)
	log.Info().Str("module", "rtc").Str("recorder", r.id).Msg("recorder released")
}
