package cm11a

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"x10-go-home/internal/x10"
)

// DefaultBaud is the fixed line rate of the CM11A.
const DefaultBaud = 4800

const (
	checksumTimeout = time.Second
	readyTimeout    = 5 * time.Second
	uploadTimeout   = time.Second
	maxRetries      = 3
)

type request struct {
	frames []frame
	resp   chan error
}

// CM11A implements Controller on a serial link. One goroutine owns the link
// and interleaves host transmissions with interface uploads, since the
// protocol is half duplex.
type CM11A struct {
	port   io.ReadWriteCloser
	logger *slog.Logger

	// monitored is the house code reported back in clock updates.
	monitored x10.HouseCode
	now       func() time.Time

	rx   chan byte
	reqs chan request

	decoder uploadDecoder

	handlerMu sync.RWMutex
	onStatus  func(x10.UnitStatus)
	onClosed  func()

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// Open opens the serial port and starts the protocol loop. It does not wait
// for any exchange with the interface.
func Open(portName string, baud int, logger *slog.Logger) (*CM11A, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("cm11a: open %s: %w", portName, err)
	}
	logger.Info("cm11a serial port opened", "port", portName, "baud", baud)
	return newCM11A(port, logger), nil
}

func newCM11A(port io.ReadWriteCloser, logger *slog.Logger) *CM11A {
	c := &CM11A{
		port:      port,
		logger:    logger.With("component", "cm11a"),
		monitored: 'A',
		now:       time.Now,
		rx:        make(chan byte, 64),
		reqs:      make(chan request),
		done:      make(chan struct{}),
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.run()
	return c
}

// SetMonitoredHouse sets the house code sent with clock updates.
func (c *CM11A) SetMonitoredHouse(h x10.HouseCode) {
	if h.Valid() {
		c.monitored = h
	}
}

func (c *CM11A) TurnOn(ctx context.Context, addrs ...x10.Address) error {
	return c.command(ctx, addrs, x10.FuncOn, 0)
}

func (c *CM11A) TurnOff(ctx context.Context, addrs ...x10.Address) error {
	return c.command(ctx, addrs, x10.FuncOff, 0)
}

func (c *CM11A) Brighten(ctx context.Context, addrs []x10.Address, steps int) error {
	return c.command(ctx, addrs, x10.FuncBright, steps)
}

func (c *CM11A) Dim(ctx context.Context, addrs []x10.Address, steps int) error {
	return c.command(ctx, addrs, x10.FuncDim, steps)
}

func (c *CM11A) OnUnitStatus(handler func(x10.UnitStatus)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onStatus = handler
}

func (c *CM11A) OnClosed(handler func()) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onClosed = handler
}

// Close stops the protocol loop, closes the port and fires the closed
// handler. Subsequent calls return the first result.
func (c *CM11A) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.port.Close()
		c.wg.Wait()
		c.logger.Info("cm11a closed")

		c.handlerMu.RLock()
		h := c.onClosed
		c.handlerMu.RUnlock()
		if h != nil {
			h()
		}
	})
	return c.closeErr
}

func (c *CM11A) command(ctx context.Context, addrs []x10.Address, fn x10.Function, dims int) error {
	frames, err := commandFrames(addrs, fn, dims)
	if err != nil {
		return err
	}
	req := request{frames: frames, resp: make(chan error, 1)}
	select {
	case c.reqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-req.resp:
		if err != nil {
			return fmt.Errorf("cm11a %s %v: %w", fn, addrs, err)
		}
		c.logger.Debug("command sent", "function", fn, "addresses", addrs, "dims", dims)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

// readLoop moves bytes from the port into rx.
func (c *CM11A) readLoop() {
	defer c.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second
	buf := make([]byte, 16)

	for {
		n, err := c.port.Read(buf)
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if err != io.EOF && !strings.Contains(err.Error(), "closed") {
				c.logger.Error("serial read error", "err", err)
			}
			select {
			case <-time.After(backoff):
			case <-c.done:
				return
			}
			if backoff < maxBackoff {
				backoff = min(backoff*2, maxBackoff)
			}
			continue
		}
		backoff = 10 * time.Millisecond

		for _, b := range buf[:n] {
			select {
			case c.rx <- b:
			case <-c.done:
				return
			}
		}
	}
}

// run is the protocol loop. It is the only reader of rx and the only writer
// to the port.
func (c *CM11A) run() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case b := <-c.rx:
			c.handleUnsolicited(b)
		case req := <-c.reqs:
			var err error
			for _, f := range req.frames {
				if err = c.transmit(f); err != nil {
					break
				}
			}
			req.resp <- err
		}
	}
}

func (c *CM11A) handleUnsolicited(b byte) {
	switch b {
	case pollRequest:
		c.upload()
	case clockRequest:
		c.setClock()
	case ready:
		// late ready from a timed-out transmission
	default:
		c.logger.Debug("ignoring unexpected byte", "byte", fmt.Sprintf("0x%02X", b))
	}
}

// transmit sends one frame, retrying while the echoed checksum is wrong.
// Interface requests that arrive in place of the checksum are serviced
// before retrying.
func (c *CM11A) transmit(f frame) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.write(f.data); err != nil {
			return err
		}
		got, err := c.readByte(checksumTimeout)
		if errors.Is(err, ErrClosed) {
			return err
		}
		if err != nil {
			c.logger.Warn("no checksum from interface", "frame", f, "attempt", attempt+1)
			continue
		}
		if got != f.checksum {
			switch got {
			case pollRequest:
				c.upload()
			case clockRequest:
				c.setClock()
			default:
				c.logger.Warn("checksum mismatch", "frame", f, "want", f.checksum, "got", got, "attempt", attempt+1)
			}
			continue
		}
		if err := c.write([]byte{ackOK}); err != nil {
			return err
		}
		if err := c.awaitReady(); err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("frame % X: %w", f.data, ErrChecksum)
}

func (c *CM11A) awaitReady() error {
	deadline := time.Now().Add(readyTimeout)
	for {
		b, err := c.readByte(time.Until(deadline))
		if err != nil {
			return err
		}
		if b == ready {
			return nil
		}
		c.logger.Debug("waiting for ready", "got", fmt.Sprintf("0x%02X", b))
	}
}

// upload acknowledges a poll and reads the buffered power-line activity.
func (c *CM11A) upload() {
	if err := c.write([]byte{pollAck}); err != nil {
		c.logger.Error("poll ack", "err", err)
		return
	}
	n, err := c.readByte(uploadTimeout)
	if err != nil {
		c.logger.Warn("upload length", "err", err)
		return
	}
	// The interface repeats the poll byte until it sees the ack.
	for n == pollRequest {
		if n, err = c.readByte(uploadTimeout); err != nil {
			c.logger.Warn("upload length", "err", err)
			return
		}
	}
	if n < 2 || n > maxUpload {
		c.logger.Warn("upload length out of range", "len", n)
		return
	}
	buf := make([]byte, n)
	for i := range buf {
		if buf[i], err = c.readByte(uploadTimeout); err != nil {
			c.logger.Warn("upload truncated", "got", i, "want", n)
			return
		}
	}
	statuses := c.decoder.decode(buf[0], buf[1:])

	c.handlerMu.RLock()
	h := c.onStatus
	c.handlerMu.RUnlock()
	for _, st := range statuses {
		c.logger.Debug("unit status", "house", st.House, "function", st.Function, "addresses", st.Addresses, "level", st.Level)
		if h != nil {
			h(st)
		}
	}
}

func (c *CM11A) setClock() {
	f := clockFrame(c.now(), c.monitored)
	c.logger.Info("interface requested clock, setting", "frame", f)
	if err := c.transmit(f); err != nil {
		c.logger.Error("set clock", "err", err)
	}
}

func (c *CM11A) write(b []byte) error {
	if _, err := c.port.Write(b); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

func (c *CM11A) readByte(timeout time.Duration) (byte, error) {
	if timeout <= 0 {
		return 0, ErrTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case b := <-c.rx:
		return b, nil
	case <-t.C:
		return 0, ErrTimeout
	case <-c.done:
		return 0, ErrClosed
	}
}
