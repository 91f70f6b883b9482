// Package scpi is a minimal SCPI client for instruments reachable over a
// raw TCP socket or a serial line.
package scpi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

const (
	DefaultPort    = "5000"
	DefaultTimeout = 5 * time.Second
)

// ErrInstrument is returned by CheckError when the instrument error queue is
// not empty.
var ErrInstrument = errors.New("scpi: instrument error")

// Client sends newline-terminated commands and reads replies. A Client is
// safe for concurrent use; each command/reply exchange is atomic.
type Client struct {
	mu      sync.Mutex
	rw      io.ReadWriteCloser
	conn    net.Conn // nil for serial transports
	reader  *bufio.Reader
	timeout time.Duration
	name    string

	// set when a block reply's terminator had not arrived yet
	pendingTerm bool
}

// Dial connects to addr over TCP. A bare host gets the default SCPI port.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("scpi: connect %s: %w", addr, err)
	}
	c := newClient(conn, timeout, addr)
	c.conn = conn
	return c, nil
}

// DialSerial opens a serial device such as /dev/ttyUSB0.
func DialSerial(device string, baud int, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud, ReadTimeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("scpi: open %s: %w", device, err)
	}
	return newClient(port, timeout, device), nil
}

func newClient(rw io.ReadWriteCloser, timeout time.Duration, name string) *Client {
	return &Client{
		rw:      rw,
		reader:  bufio.NewReaderSize(rw, 64*1024),
		timeout: timeout,
		name:    name,
	}
}

// String returns the address the client is connected to.
func (c *Client) String() string { return c.name }

// Close closes the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rw == nil {
		return nil
	}
	err := c.rw.Close()
	c.rw = nil
	return err
}

// Command sends cmd without waiting for a reply.
func (c *Client) Command(cmd string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(cmd)
}

// Query sends cmd and returns the reply line with surrounding space removed.
func (c *Client) Query(cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(cmd); err != nil {
		return "", err
	}
	c.readDeadline()
	line, err := c.reader.ReadString('\n')
	if err == nil && c.pendingTerm && strings.TrimSpace(line) == "" {
		line, err = c.reader.ReadString('\n')
	}
	c.pendingTerm = false
	if err != nil {
		return "", fmt.Errorf("scpi: %s: read reply: %w", cmd, err)
	}
	return strings.TrimSpace(line), nil
}

// QueryInt sends cmd and parses the reply as an integer.
func (c *Client) QueryInt(cmd string) (int, error) {
	s, err := c.Query(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("scpi: %s: invalid integer reply %q", cmd, s)
	}
	return v, nil
}

// QueryBlock sends cmd and reads an IEEE 488.2 definite-length block
// (#<digits><length><payload>) followed by an optional line terminator.
func (c *Client) QueryBlock(cmd string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(cmd); err != nil {
		return nil, err
	}
	c.readDeadline()
	payload, err := readBlock(c.reader)
	if err != nil {
		return nil, fmt.Errorf("scpi: %s: %w", cmd, err)
	}
	c.pendingTerm = c.reader.Buffered() == 0
	return payload, nil
}

// Identify returns the *IDN? reply.
func (c *Client) Identify() (string, error) {
	return c.Query("*IDN?")
}

// CheckError pops one entry from the instrument error queue and returns it
// as an error unless it reports success.
func (c *Client) CheckError() error {
	reply, err := c.Query("SYST:ERR?")
	if err != nil {
		return err
	}
	code, msg, _ := strings.Cut(reply, ",")
	if n, err := strconv.Atoi(strings.TrimSpace(code)); err == nil && n == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInstrument, strings.Trim(strings.TrimSpace(msg), `"`))
}

// WaitFor polls query every interval until it replies want. It returns
// ctx.Err() if ctx ends first.
func (c *Client) WaitFor(ctx context.Context, query, want string, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	polls := 0
	for {
		got, err := c.Query(query)
		if err != nil {
			return err
		}
		if got == want {
			return nil
		}
		polls++
		if polls%1000 == 0 {
			log.Printf("scpi: %s still waiting for %s=%s (last %q)", c.name, query, want, got)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) writeLocked(cmd string) error {
	if c.rw == nil {
		return fmt.Errorf("scpi: %s: not connected", c.name)
	}
	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if _, err := io.WriteString(c.rw, cmd+"\r\n"); err != nil {
		return fmt.Errorf("scpi: %s: write: %w", cmd, err)
	}
	return nil
}

func (c *Client) readDeadline() {
	if c.conn != nil {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
}

func readBlock(r *bufio.Reader) ([]byte, error) {
	hash, err := r.ReadByte()
	for err == nil && (hash == '\r' || hash == '\n') {
		hash, err = r.ReadByte()
	}
	if err != nil {
		return nil, fmt.Errorf("read block header: %w", err)
	}
	if hash != '#' {
		return nil, fmt.Errorf("malformed block: expected '#', got %q", hash)
	}
	d, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read block header: %w", err)
	}
	if d < '1' || d > '9' {
		return nil, fmt.Errorf("malformed block: length digit %q", d)
	}
	digits := make([]byte, d-'0')
	if _, err := io.ReadFull(r, digits); err != nil {
		return nil, fmt.Errorf("read block length: %w", err)
	}
	n, err := strconv.Atoi(string(digits))
	if err != nil || n < 0 {
		return nil, fmt.Errorf("malformed block length %q", digits)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read block payload (%d bytes): %w", n, err)
	}

	// Swallow the terminator if it is already buffered.
	for r.Buffered() > 0 {
		b, _ := r.Peek(1)
		if b[0] != '\r' && b[0] != '\n' {
			break
		}
		r.ReadByte()
	}
	return payload, nil
}
