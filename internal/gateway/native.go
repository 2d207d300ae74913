package gateway

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/oprelay/internal/infrastructure/logging"
	"github.com/GriffinCanCode/oprelay/internal/settings"
)

// DefaultNativeService is the registered name of the backend host.
const DefaultNativeService = "org.oplauncher.applet_service"

// MaxFrameSize bounds a single native-messaging frame.
const MaxFrameSize = 1 << 20

// ErrFrameTooLarge is returned for frames above MaxFrameSize.
var ErrFrameTooLarge = errors.New("native message exceeds maximum frame size")

// WriteFrame writes data as one native-messaging frame: a little-endian
// uint32 length followed by the JSON bytes.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one native-messaging frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// StreamLink speaks native-messaging framing over a byte stream pair.
type StreamLink struct {
	r      io.Reader
	w      io.Writer
	closer func() error
	once   sync.Once
	err    error
}

// NewStreamLink wraps r and w. closer runs once on Close and may be nil.
func NewStreamLink(r io.Reader, w io.Writer, closer func() error) *StreamLink {
	return &StreamLink{r: r, w: w, closer: closer}
}

func (l *StreamLink) WriteMessage(data []byte) error { return WriteFrame(l.w, data) }
func (l *StreamLink) ReadMessage() ([]byte, error)   { return ReadFrame(l.r) }

func (l *StreamLink) Close() error {
	l.once.Do(func() {
		if l.closer != nil {
			l.err = l.closer()
		}
	})
	return l.err
}

// NativeDialer starts the executable registered for service and talks to it
// over its stdin and stdout. hosts maps service names to executable paths.
func NativeDialer(service string, hosts map[string]string, logger *zap.Logger) Dialer {
	logger = logging.OrNop(logger).Named("gateway.native")

	return func(_ context.Context, _ settings.Settings) (Link, error) {
		path, ok := hosts[service]
		if !ok {
			return nil, fmt.Errorf("native service %q is not registered", service)
		}

		// The host outlives the dialing call, so it is not bound to ctx.
		cmd := exec.Command(path, service)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start native host %s: %w", path, err)
		}
		logger.Info("native host started",
			zap.String("service", service),
			zap.String("path", path),
			zap.Int("pid", cmd.Process.Pid),
		)

		return NewStreamLink(stdout, stdin, func() error {
			stdin.Close()
			if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Debug("kill native host", zap.Error(err))
			}
			cmd.Wait()
			return nil
		}), nil
	}
}
