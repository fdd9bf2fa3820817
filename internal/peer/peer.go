// Package peer implements the requesting endpoint: it connects to a
// host, authorizes, receives the catalog and downloads files into the
// output directory.
package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"

	"github.com/postalsys/ferry/internal/catalog"
	"github.com/postalsys/ferry/internal/channel"
	"github.com/postalsys/ferry/internal/logging"
	"github.com/postalsys/ferry/internal/protocol"
)

var (
	// ErrUnauthorized is returned when the host rejects the access key.
	ErrUnauthorized = errors.New("access key rejected by host")

	// ErrIntegrity is returned when a downloaded file's digest does not
	// match the advertised one. The partial output is deleted.
	ErrIntegrity = errors.New("downloaded file digest mismatch")

	// ErrOversizedChunk is returned when the host streams more bytes
	// than it advertised for a file.
	ErrOversizedChunk = errors.New("chunk exceeds remaining advertised size")
)

// Chooser selects which advertised files to download. It runs after the
// catalog has been received and may block on user input; the protocol is
// idle while it runs. Returning an empty slice downloads nothing.
type Chooser func(catalog.Catalog) ([]catalog.FileInfo, error)

// All is the Chooser that downloads every advertised file.
func All(cat catalog.Catalog) ([]catalog.FileInfo, error) {
	return cat, nil
}

// Options configures a Client.
type Options struct {
	// Target is the host's address, host:port.
	Target string

	// AccessKey is presented after the handshake.
	AccessKey string

	// OutputDir receives downloaded files.
	OutputDir string

	// Choose selects files from the received catalog. Defaults to All.
	Choose Chooser

	Logger *slog.Logger
}

// Client drives the peer side of the protocol for one session.
type Client struct {
	opts   Options
	logger *slog.Logger
}

// New validates opts and creates a Client.
func New(opts Options) (*Client, error) {
	if opts.Target == "" {
		return nil, fmt.Errorf("target address must not be empty")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if opts.Choose == nil {
		opts.Choose = All
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		opts:   opts,
		logger: opts.Logger.With(logging.KeyComponent, "peer"),
	}, nil
}

// Run connects, authorizes, downloads the chosen files and terminates
// the session. It returns the descriptors of completed downloads.
func (c *Client) Run(ctx context.Context) ([]catalog.FileInfo, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.opts.Target)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.opts.Target, err)
	}

	ch, err := channel.New(conn, channel.Initiator)
	if err != nil {
		return nil, err
	}
	defer ch.Close()

	c.logger.Info("connected", logging.KeyRemoteAddr, c.opts.Target)

	if err := c.authorize(ch); err != nil {
		return nil, err
	}

	cat, err := c.receiveCatalog(ch)
	if err != nil {
		return nil, fmt.Errorf("receive catalog: %w", err)
	}
	c.logger.Info("catalog received", logging.KeyCount, len(cat))

	var done []catalog.FileInfo
	if len(cat) > 0 {
		chosen, err := c.opts.Choose(cat)
		if err != nil {
			return nil, fmt.Errorf("select files: %w", err)
		}

		for _, f := range chosen {
			if err := c.download(ctx, ch, f); err != nil {
				return done, fmt.Errorf("download %s: %w", f.Name, err)
			}
			done = append(done, f)
		}
	}

	if err := ch.Send([]byte(protocol.MsgDisconnect)); err != nil {
		return done, err
	}

	return done, nil
}

// authorize sends the access key and checks the host's verdict. The
// peer only checks for DISCONNECT; any other response means accepted.
func (c *Client) authorize(ch *channel.Secure) error {
	if err := ch.Send([]byte(c.opts.AccessKey)); err != nil {
		return err
	}

	resp, err := ch.Recv()
	if err != nil {
		return err
	}
	if string(resp) == protocol.MsgDisconnect {
		return ErrUnauthorized
	}

	return nil
}

// receiveCatalog reads the catalog length, echoes it back, then parses
// exactly that many entries.
func (c *Client) receiveCatalog(ch *channel.Secure) (catalog.Catalog, error) {
	record, err := ch.Recv()
	if err != nil {
		return nil, err
	}
	n, err := protocol.ParseCount(record)
	if err != nil {
		return nil, err
	}

	if err := ch.Send(protocol.FormatCount(n)); err != nil {
		return nil, err
	}

	cat := make(catalog.Catalog, 0, n)
	for i := 0; i < n; i++ {
		entry, err := ch.Recv()
		if err != nil {
			return nil, err
		}
		name, size, digest, err := protocol.ParseEntry(entry)
		if err != nil {
			return nil, err
		}
		cat = append(cat, catalog.FileInfo{Name: name, Size: size, Digest: digest})
	}

	return cat, nil
}

// download requests one file, appends chunk records until the advertised
// size is reached, then verifies and confirms the digest. On integrity
// failure the partial output is deleted.
func (c *Client) download(ctx context.Context, ch *channel.Secure, f catalog.FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(c.opts.OutputDir, outputName(f.Name))

	if err := ch.Send([]byte(f.Digest)); err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return err
	}

	written, err := c.receiveBody(ch, out, f.Size)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return err
	}

	computed, _, err := catalog.HashFile(path)
	if err != nil {
		return err
	}

	// The host verifies its own service against this value.
	if err := ch.Send([]byte(computed)); err != nil {
		return err
	}

	if computed != f.Digest {
		os.Remove(path)
		return fmt.Errorf("%w: advertised %s, computed %s", ErrIntegrity, f.Digest, computed)
	}

	c.logger.Info("file downloaded",
		logging.KeyFile, path,
		logging.KeySize, written,
		logging.KeyDigest, computed)

	return nil
}

// receiveBody appends chunk records to out until size bytes have been
// written.
func (c *Client) receiveBody(ch *channel.Secure, out *os.File, size uint64) (uint64, error) {
	var written uint64
	for written < size {
		chunk, err := ch.Recv()
		if err != nil {
			return written, err
		}
		if uint64(len(chunk)) > size-written {
			return written, fmt.Errorf("%w: got %d bytes, %d remaining",
				ErrOversizedChunk, len(chunk), size-written)
		}
		if _, err := out.Write(chunk); err != nil {
			return written, err
		}
		written += uint64(len(chunk))
	}
	return written, nil
}

// outputName sanitizes an advertised display name before it is joined
// to the output directory: NFC normalization, then reduction to a bare
// basename so a hostile host cannot escape the directory.
func outputName(name string) string {
	name = filepath.Base(norm.NFC.String(name))
	if name == "." || name == string(filepath.Separator) || name == ".." {
		return "_"
	}
	return name
}
