package encoder

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"time"
)

// Sequence receives image-sequence frames as they are captured.
type Sequence interface {
	AddFrame(img image.Image) error
	Frames() int
	// Close finishes the output and returns its path.
	Close() (string, error)
	// Abort discards the output.
	Abort()
}

// TarSequence streams frames into a tar archive as numbered images, one
// entry per frame starting at 0000000.
type TarSequence struct {
	format Format
	path   string
	file   *os.File
	tw     *tar.Writer
	frames int
	mtime  time.Time
	buf    bytes.Buffer
}

// NewSequence opens a new archive for an image-sequence format.
func (e *Exporter) NewSequence(f Format) (Sequence, error) {
	if !f.Sequence() {
		return nil, fmt.Errorf("%s is not an image sequence format", f)
	}
	path, err := e.outputPath(string(f), "tar")
	if err != nil {
		return nil, err
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	e.log.Debug().Str("path", path).Str("format", string(f)).Msg("Image sequence started")
	return &TarSequence{format: f, path: path, file: file, tw: tar.NewWriter(file), mtime: e.now()}, nil
}

// AddFrame encodes img and appends it to the archive.
func (s *TarSequence) AddFrame(img image.Image) error {
	if s.tw == nil {
		return errors.New("sequence closed")
	}
	s.buf.Reset()
	var err error
	if s.format == FormatJPG {
		err = jpeg.Encode(&s.buf, img, &jpeg.Options{Quality: 92})
	} else {
		err = png.Encode(&s.buf, img)
	}
	if err != nil {
		return fmt.Errorf("frame %d: %w", s.frames, err)
	}
	hdr := &tar.Header{
		Name:    fmt.Sprintf("%07d.%s", s.frames, s.format),
		Mode:    0644,
		Size:    int64(s.buf.Len()),
		ModTime: s.mtime,
	}
	if err := s.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("frame %d: %w", s.frames, err)
	}
	if _, err := s.tw.Write(s.buf.Bytes()); err != nil {
		return fmt.Errorf("frame %d: %w", s.frames, err)
	}
	s.frames++
	return nil
}

// Frames returns the number of frames written.
func (s *TarSequence) Frames() int { return s.frames }

// Close finishes the archive and returns its path.
func (s *TarSequence) Close() (string, error) {
	if s.tw == nil {
		return "", errors.New("sequence closed")
	}
	err := s.tw.Close()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.tw = nil
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExportFailed, err)
	}
	return s.path, nil
}

// Abort discards the archive.
func (s *TarSequence) Abort() {
	if s.tw == nil {
		return
	}
	s.tw = nil
	_ = s.file.Close()
	_ = os.Remove(s.path)
}
