// Package ingestion implements the Ingestion Orchestrator (C8): one
// supervised worker per configured stream, driving frames through
// health gating and into the Query Pipeline (§4.8).
package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Backend resolves a stream source to a playable URL and yields
// decoded JPEG frames at a configured rate (§4.8: "extraction uses an
// external tool producing an HTTP stream URL; frame decoding uses a
// pipelined decoder that yields JPEG frames"). FFmpegBackend is the
// default, subprocess-managed implementation, grounded on the
// exec.Command("ffmpeg", ...) pattern already used for camera
// snapshots elsewhere in this codebase.
type Backend interface {
	Resolve(ctx context.Context, rtspURL string) (string, error)
	Open(ctx context.Context, playableURL string, fps int) (FrameReader, error)
}

type FrameReader interface {
	ReadFrame() (image.Image, error)
	Close() error
}

// FFmpegBackend shells out to ffmpeg for both RTSP resolution (a
// no-op passthrough: ffmpeg consumes rtsp:// URLs directly) and MJPEG
// frame decoding over a pipe.
type FFmpegBackend struct {
	BinaryPath string
}

func NewFFmpegBackend() *FFmpegBackend {
	return &FFmpegBackend{BinaryPath: "ffmpeg"}
}

// Resolve is a passthrough for FFmpeg, which accepts rtsp:// URLs
// directly; backends fronting a discovery/relay service would do real
// extraction here.
func (b *FFmpegBackend) Resolve(ctx context.Context, rtspURL string) (string, error) {
	return rtspURL, nil
}

func (b *FFmpegBackend) Open(ctx context.Context, playableURL string, fps int) (FrameReader, error) {
	if fps <= 0 {
		fps = 1
	}
	args := []string{
		"-y",
		"-rtsp_transport", "tcp",
		"-i", playableURL,
		"-vf", fmt.Sprintf("fps=%d", fps),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-",
	}
	cmd := exec.CommandContext(ctx, b.BinaryPath, args...)
	// New process group so Stop can kill ffmpeg and any children it
	// spawns, not just the direct child (§4.8: "subprocess-managed with
	// guaranteed cleanup on stop").
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stderr = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &ffmpegFrameReader{cmd: cmd, reader: bufio.NewReaderSize(stdout, 1<<20)}, nil
}

type ffmpegFrameReader struct {
	cmd    *exec.Cmd
	reader *bufio.Reader
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ReadFrame scans the MJPEG byte stream for one JPEG frame (SOI...EOI)
// and decodes it.
func (r *ffmpegFrameReader) ReadFrame() (image.Image, error) {
	var buf bytes.Buffer
	started := false
	for {
		b, err := r.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if !started {
			buf.WriteByte(b)
			if buf.Len() >= 2 && bytes.Equal(buf.Bytes()[buf.Len()-2:], jpegSOI) {
				started = true
			}
			continue
		}
		buf.WriteByte(b)
		if buf.Len() >= 2 && bytes.Equal(buf.Bytes()[buf.Len()-2:], jpegEOI) {
			break
		}
	}
	return decodeJPEG(buf.Bytes())
}

func decodeJPEG(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// Close kills the ffmpeg process group and waits for cleanup.
func (r *ffmpegFrameReader) Close() error {
	if r.cmd.Process != nil {
		pgid, err := unix.Getpgid(r.cmd.Process.Pid)
		if err == nil {
			_ = unix.Kill(-pgid, unix.SIGKILL)
		} else {
			_ = r.cmd.Process.Kill()
		}
	}
	_ = r.cmd.Wait()
	return nil
}
