package video

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Source yields the frames of one video in order. Grab advances to the next
// frame cheaply; Retrieve decodes the frame last grabbed.
type Source interface {
	// Grab returns false once the stream is exhausted
	Grab() (bool, error)
	Retrieve() (image.Image, error)
	Close() error
}

// Opener opens a frame source for a local file.
type Opener func(path string) (Source, error)

// FFmpegSource decodes a file with ffmpeg, which writes every frame to its
// stdout as an MJPEG image sequence.
type FFmpegSource struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	reader  *bufio.Reader
	buf     []byte
	pending []byte
	chunk   []byte
	closeMu sync.Mutex
	closed  bool
}

// OpenFFmpeg starts ffmpeg on path.
func OpenFFmpeg(path string) (Source, error) {
	cmd := ffmpeg.Input(path).
		Output("pipe:", ffmpeg.KwArgs{
			"format": "image2pipe",
			"vcodec": "mjpeg",
			"vsync":  "passthrough",
			"q:v":    "3",
		}).
		Compile()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrProcessingFailed, err)
	}
	return &FFmpegSource{
		cmd:    cmd,
		stdout: stdout,
		reader: bufio.NewReaderSize(stdout, 256*1024),
		buf:    make([]byte, 0, 1024*1024),
		chunk:  make([]byte, 64*1024),
	}, nil
}

// Grab reads the next complete JPEG from the pipe.
func (s *FFmpegSource) Grab() (bool, error) {
	for {
		if frame := extractJPEGFrame(&s.buf); frame != nil {
			s.pending = frame
			return true, nil
		}
		n, err := s.reader.Read(s.chunk)
		s.buf = append(s.buf, s.chunk[:n]...)
		if err != nil {
			if errors.Is(err, io.EOF) {
				if frame := extractJPEGFrame(&s.buf); frame != nil {
					s.pending = frame
					return true, nil
				}
				return false, nil
			}
			return false, fmt.Errorf("read ffmpeg output: %w", err)
		}
	}
}

// Retrieve decodes the frame returned by the last Grab.
func (s *FFmpegSource) Retrieve() (image.Image, error) {
	if s.pending == nil {
		return nil, errors.New("no frame grabbed")
	}
	img, err := jpeg.Decode(bytes.NewReader(s.pending))
	s.pending = nil
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Close stops ffmpeg if it is still running and reaps it.
func (s *FFmpegSource) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd.ProcessState == nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.stdout.Close()
	s.cmd.Wait()
	return nil
}

// extractJPEGFrame cuts the first complete SOI..EOI image out of buffer.
func extractJPEGFrame(buffer *[]byte) []byte {
	if len(*buffer) < 4 {
		return nil
	}

	startIdx := bytes.Index(*buffer, []byte{0xFF, 0xD8})
	if startIdx == -1 {
		return nil
	}
	rel := bytes.Index((*buffer)[startIdx+2:], []byte{0xFF, 0xD9})
	if rel == -1 {
		return nil
	}
	endIdx := startIdx + 2 + rel + 2

	frame := make([]byte, endIdx-startIdx)
	copy(frame, (*buffer)[startIdx:endIdx])
	*buffer = (*buffer)[endIdx:]
	return frame
}
