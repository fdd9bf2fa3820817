// Package host implements the serving endpoint: the accept loop and the
// per-connection protocol state machine.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/postalsys/ferry/internal/catalog"
	"github.com/postalsys/ferry/internal/channel"
	"github.com/postalsys/ferry/internal/crypto"
	"github.com/postalsys/ferry/internal/logging"
	"github.com/postalsys/ferry/internal/metrics"
	"github.com/postalsys/ferry/internal/protocol"
	"github.com/postalsys/ferry/internal/throttle"
)

var (
	// ErrUnknownDigest is returned when a peer requests a digest that is
	// not in the index. Fatal to the connection.
	ErrUnknownDigest = errors.New("requested digest not in catalog")

	// ErrIntegrity is returned when the peer's confirmation digest does
	// not match the digest served.
	ErrIntegrity = errors.New("transfer confirmation digest mismatch")

	// ErrCountMismatch is returned when the peer echoes a different
	// catalog length than advertised.
	ErrCountMismatch = errors.New("catalog length echo mismatch")
)

// Options configures a Server.
type Options struct {
	// Listen is the TCP bind address.
	Listen string

	// AccessKey authorizes peers.
	AccessKey string

	// ChunkSize is the per-record payload size for file streaming.
	ChunkSize int

	// RateLimit caps per-connection streaming throughput in bytes per
	// second. Zero disables limiting.
	RateLimit int64

	// Catalog and Index are built once at startup and shared read-only
	// across all connection goroutines.
	Catalog catalog.Catalog
	Index   catalog.Index

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Server accepts peer connections and serves the advertised catalog.
type Server struct {
	opts     Options
	logger   *slog.Logger
	listener net.Listener
	wg       sync.WaitGroup
}

// New validates opts and creates a Server.
func New(opts Options) (*Server, error) {
	if opts.AccessKey == "" {
		return nil, fmt.Errorf("access key must not be empty")
	}
	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", opts.ChunkSize)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}

	return &Server{
		opts:   opts,
		logger: opts.Logger.With(logging.KeyComponent, "host"),
	}, nil
}

// Listen binds the TCP listener. Separate from Serve so callers can
// learn the bound address before serving (":0" in tests).
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.opts.Listen, err)
	}
	s.listener = l
	return nil
}

// Addr returns the bound address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop until ctx is cancelled. Each accepted
// connection runs in its own goroutine; connection errors are logged and
// never propagate. No new connection is admitted after cancellation;
// in-flight connections are joined before Serve returns.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	s.logger.Info("listening",
		logging.KeyLocalAddr, s.listener.Addr().String(),
		logging.KeyCount, len(s.opts.Catalog))

	// Closing the listener is what unblocks Accept on shutdown.
	stop := context.AfterFunc(ctx, func() {
		s.listener.Close()
	})
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", logging.KeyError, err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}

	s.wg.Wait()
	s.logger.Info("shut down")
	return nil
}

// handle drives the protocol state machine for one connection. Any
// error terminates the connection; the accept loop keeps running.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	m := s.opts.Metrics
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
	defer m.ConnectionsActive.Dec()

	logger := s.logger.With(logging.KeyRemoteAddr, conn.RemoteAddr().String())
	logger.Info("peer connected")

	ch, err := channel.New(conn, channel.Responder)
	if err != nil {
		m.ConnectionErrors.WithLabelValues("handshake").Inc()
		logger.Error("handshake failed", logging.KeyError, err)
		return
	}
	defer ch.Close()

	if err := s.conversation(ctx, ch, logger); err != nil {
		m.ConnectionErrors.WithLabelValues(errorClass(err)).Inc()
		logger.Error("connection terminated", logging.KeyError, err)
		return
	}

	logger.Info("peer disconnected")
}

// conversation runs AWAIT_AUTH through TERMINATED on an established
// channel.
func (s *Server) conversation(ctx context.Context, ch *channel.Secure, logger *slog.Logger) error {
	ok, err := s.authorize(ch, logger)
	if err != nil {
		return fmt.Errorf("authorize: %w", err)
	}
	if !ok {
		return nil
	}

	if err := s.advertise(ch); err != nil {
		return fmt.Errorf("advertise: %w", err)
	}

	return s.serve(ctx, ch, logger)
}

// authorize receives the access key and replies VALID or DISCONNECT.
// A mismatch is reported to the peer and closes the connection without
// revealing anything else.
func (s *Server) authorize(ch *channel.Secure, logger *slog.Logger) (bool, error) {
	key, err := ch.Recv()
	if err != nil {
		return false, err
	}

	if string(key) != s.opts.AccessKey {
		s.opts.Metrics.AuthFailures.Inc()
		logger.Warn("access key rejected")
		if err := ch.Send([]byte(protocol.MsgDisconnect)); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, ch.Send([]byte(protocol.MsgValid))
}

// advertise sends the catalog length, waits for the decimal echo, then
// sends every catalog entry in order.
func (s *Server) advertise(ch *channel.Secure) error {
	if err := ch.Send(protocol.FormatCount(len(s.opts.Catalog))); err != nil {
		return err
	}

	echo, err := ch.Recv()
	if err != nil {
		return err
	}
	n, err := protocol.ParseCount(echo)
	if err != nil {
		return err
	}
	if n != len(s.opts.Catalog) {
		return fmt.Errorf("%w: sent %d, peer echoed %d", ErrCountMismatch, len(s.opts.Catalog), n)
	}

	for _, f := range s.opts.Catalog {
		if err := ch.Send(protocol.FormatEntry(f.Name, f.Size, f.Digest)); err != nil {
			return err
		}
	}

	return nil
}

// serve answers file requests until the peer sends DISCONNECT.
func (s *Server) serve(ctx context.Context, ch *channel.Secure, logger *slog.Logger) error {
	for {
		req, err := ch.Recv()
		if err != nil {
			return err
		}

		digest := string(req)
		if digest == protocol.MsgDisconnect {
			return nil
		}

		path, ok := s.opts.Index[digest]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDigest, digest)
		}

		start := time.Now()
		sent, err := s.stream(ctx, ch, path)
		if err != nil {
			return fmt.Errorf("stream %s: %w", path, err)
		}

		confirmation, err := ch.Recv()
		if err != nil {
			return err
		}
		if string(confirmation) != digest {
			return fmt.Errorf("%w: served %s, peer computed %s", ErrIntegrity, digest, confirmation)
		}

		s.opts.Metrics.FilesServed.Inc()
		s.opts.Metrics.BytesSent.Add(float64(sent))
		s.opts.Metrics.TransferDuration.Observe(time.Since(start).Seconds())
		logger.Info("file served",
			logging.KeyFile, path,
			logging.KeySize, sent,
			logging.KeyDuration, time.Since(start))
	}
}

// stream sends the file's bytes in records of at most ChunkSize bytes.
func (s *Server) stream(ctx context.Context, ch *channel.Secure, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	reader := throttle.NewReader(ctx, f, s.opts.RateLimit, s.opts.ChunkSize)
	buf := make([]byte, s.opts.ChunkSize)

	var sent int64
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			if sendErr := ch.Send(buf[:n]); sendErr != nil {
				return sent, sendErr
			}
			sent += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
	}
}

// errorClass buckets a connection error for metrics.
func errorClass(err error) string {
	switch {
	case errors.Is(err, ErrUnknownDigest), errors.Is(err, ErrCountMismatch),
		errors.Is(err, protocol.ErrMalformedEntry), errors.Is(err, protocol.ErrRecordTooLarge),
		errors.Is(err, protocol.ErrInvalidRecord):
		return "protocol"
	case errors.Is(err, ErrIntegrity):
		return "integrity"
	case errors.Is(err, crypto.ErrDecrypt):
		return "crypto"
	default:
		return "network"
	}
}
