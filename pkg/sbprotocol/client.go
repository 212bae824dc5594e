package sbprotocol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultFrameDelay  = 50 * time.Millisecond
	defaultWriteSettle = 300 * time.Millisecond
)

// Client runs one transaction at a time over a Link: connect+authenticate,
// category queries and command writes. It does not queue; a second concurrent
// call fails with ErrLinkBusy.
type Client struct {
	link         Link
	instrument   []LinkInstrument
	frameDelay   time.Duration
	writeSettle  time.Duration
	onDisconnect func(error)
	onOpened     func()
	logger       *zap.Logger

	inFlight atomic.Int32

	mu         sync.Mutex
	generation uint64
	ready      bool
	tx         *transaction
}

type ClientOption func(*Client)

func WithInstrument(instrument LinkInstrument) ClientOption {
	return func(c *Client) {
		c.instrument = append(c.instrument, instrument)
	}
}

func WithFrameDelay(delay time.Duration) ClientOption {
	return func(c *Client) {
		c.frameDelay = delay
	}
}

// WithWriteSettle sets how long a write waits for a RequestError before it is
// considered accepted.
func WithWriteSettle(settle time.Duration) ClientOption {
	return func(c *Client) {
		c.writeSettle = settle
	}
}

// WithDisconnectHandler registers fn to be called when an authenticated link
// drops.
func WithDisconnectHandler(fn func(error)) ClientOption {
	return func(c *Client) {
		c.onDisconnect = fn
	}
}

// WithOpenedHandler registers fn to be called once the link is open and the
// handshake is about to be written.
func WithOpenedHandler(fn func()) ClientOption {
	return func(c *Client) {
		c.onOpened = fn
	}
}

func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func NewClient(link Link, options ...ClientOption) *Client {
	c := &Client{
		link:        link,
		frameDelay:  defaultFrameDelay,
		writeSettle: defaultWriteSettle,
		logger:      zap.NewNop(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// SetDisconnectHandler replaces the handler set with WithDisconnectHandler.
func (c *Client) SetDisconnectHandler(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// SetOpenedHandler replaces the handler set with WithOpenedHandler.
func (c *Client) SetOpenedHandler(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpened = fn
}

func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Connect opens the link, sends the handshake carrying pin (0 for none) and
// reads the model back to confirm the device accepted it.
func (c *Client) Connect(ctx context.Context, pin uint16) error {
	end, err := c.begin("connect")
	if err != nil {
		return err
	}
	err = c.connect(ctx, pin)
	end(err)
	return err
}

func (c *Client) connect(ctx context.Context, pin uint16) error {
	handshake, err := HandshakeFrame(pin)
	if err != nil {
		return &AuthError{Pin: pin, Reason: err.Error()}
	}

	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.ready = false
	c.mu.Unlock()

	err = c.link.Open(ctx, LinkHandler{
		OnNotify: func(raw []byte) {
			c.handleNotify(gen, raw)
		},
		OnDisconnect: func(err error) {
			c.handleDisconnect(gen, err)
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return &TimeoutError{Op: "connect"}
		}
		return &LinkError{Op: "connect", Err: err}
	}

	c.mu.Lock()
	opened := c.onOpened
	c.mu.Unlock()
	if opened != nil {
		opened()
	}

	tx := c.startTransaction([]Packet{PacketModel})
	defer c.endTransaction()

	err = c.writeFrames(ctx, "handshake", handshake, ReadFrame(PacketModel))
	if err == nil {
		err = c.await(ctx, "authenticate", tx)
	}
	if err != nil {
		c.closeLink()
		var linkErr *LinkError
		switch {
		case errors.Is(err, ErrRequestRejected):
			return &AuthError{Pin: pin, Reason: "device rejected the handshake"}
		case errors.As(err, &linkErr) && linkErr.Op == "notify":
			return &AuthError{Pin: pin, Reason: "device closed the link during handshake"}
		}
		return err
	}

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()
	c.logger.Debug("sbprotocol: authenticated", zap.Uint64("generation", gen))
	return nil
}

// Query reads every packet of category and returns the raw notifications.
func (c *Client) Query(ctx context.Context, category Category) ([][]byte, error) {
	op := "query " + category.String()
	end, err := c.begin(op)
	if err != nil {
		return nil, err
	}
	frames, err := c.query(ctx, op, category)
	end(err)
	return frames, err
}

func (c *Client) query(ctx context.Context, op string, category Category) ([][]byte, error) {
	if !c.Ready() {
		return nil, &LinkError{Op: op, Err: ErrNotConnected}
	}
	packets := category.Packets()
	tx := c.startTransaction(packets)
	defer c.endTransaction()

	frames := make([][]byte, 0, len(packets))
	for _, p := range packets {
		frames = append(frames, ReadFrame(p))
	}
	if err := c.writeFrames(ctx, op, frames...); err != nil {
		return nil, err
	}
	if err := c.await(ctx, op, tx); err != nil {
		return nil, err
	}
	return tx.collected(), nil
}

// Write sends command frames and waits for the settle window; a RequestError
// notification within it fails the write with ErrRequestRejected.
func (c *Client) Write(ctx context.Context, frames ...[]byte) error {
	end, err := c.begin("write")
	if err != nil {
		return err
	}
	err = c.write(ctx, frames)
	end(err)
	return err
}

func (c *Client) write(ctx context.Context, frames [][]byte) error {
	if !c.Ready() {
		return &LinkError{Op: "write", Err: ErrNotConnected}
	}
	tx := c.startTransaction(nil)
	defer c.endTransaction()

	if err := c.writeFrames(ctx, "write", frames...); err != nil {
		return err
	}
	timer := time.NewTimer(c.writeSettle)
	defer timer.Stop()
	select {
	case <-tx.failed:
		return fmt.Errorf("write: %w", tx.err)
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &TimeoutError{Op: "write"}
	}
}

// Close drops the link without firing the disconnect handler.
func (c *Client) Close() error {
	c.mu.Lock()
	c.generation++
	c.ready = false
	c.mu.Unlock()
	return c.link.Close()
}

func (c *Client) closeLink() {
	if err := c.Close(); err != nil {
		c.logger.Debug("sbprotocol: close after failed connect", zap.Error(err))
	}
}

func (c *Client) begin(op string) (func(error), error) {
	for _, in := range c.instrument {
		if in.Begin != nil {
			in.Begin(op)
		}
	}
	start := time.Now()
	end := func(err error) {
		for _, in := range c.instrument {
			if in.End != nil {
				in.End(op, time.Since(start), err)
			}
		}
	}
	if c.inFlight.Add(1) > 1 {
		c.inFlight.Add(-1)
		end(ErrLinkBusy)
		return nil, ErrLinkBusy
	}
	return func(err error) {
		c.inFlight.Add(-1)
		end(err)
	}, nil
}

func (c *Client) writeFrames(ctx context.Context, op string, frames ...[]byte) error {
	for i, frame := range frames {
		if i > 0 && c.frameDelay > 0 {
			select {
			case <-time.After(c.frameDelay):
			case <-ctx.Done():
				return &TimeoutError{Op: op}
			}
		}
		if err := c.link.Write(frame); err != nil {
			return &LinkError{Op: op, Err: err}
		}
	}
	return nil
}

func (c *Client) await(ctx context.Context, op string, tx *transaction) error {
	select {
	case <-tx.done:
		return nil
	case <-tx.failed:
		if errors.Is(tx.err, ErrRequestRejected) {
			return fmt.Errorf("%s: %w", op, tx.err)
		}
		return tx.err
	case <-ctx.Done():
		c.mu.Lock()
		missing := tx.missing()
		c.mu.Unlock()
		return &TimeoutError{Op: op, Missing: missing}
	}
}

func (c *Client) startTransaction(packets []Packet) *transaction {
	tx := newTransaction(packets)
	c.mu.Lock()
	c.tx = tx
	c.mu.Unlock()
	return tx
}

func (c *Client) endTransaction() {
	c.mu.Lock()
	c.tx = nil
	c.mu.Unlock()
}

func (c *Client) handleNotify(gen uint64, raw []byte) {
	p, err := PeekPacket(raw)
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	if err != nil {
		c.logger.Debug("sbprotocol: dropping notification", zap.Binary("raw", raw), zap.Error(err))
		return
	}
	if c.tx == nil {
		c.logger.Debug("sbprotocol: unsolicited notification", zap.Stringer("packet", p))
		return
	}
	if p == PacketRequestError {
		c.tx.fail(ErrRequestRejected)
		return
	}
	c.tx.receive(p, raw)
}

func (c *Client) handleDisconnect(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	wasReady := c.ready
	c.ready = false
	if c.tx != nil {
		c.tx.fail(&LinkError{Op: "notify", Err: err})
	}
	onDisconnect := c.onDisconnect
	c.mu.Unlock()

	if wasReady && onDisconnect != nil {
		onDisconnect(&LinkError{Op: "disconnect", Err: err})
	}
}

// transaction collects the answers of one request burst. Guarded by Client.mu.
type transaction struct {
	expected  map[Packet]Packet
	frames    map[Packet][]byte
	order     []Packet
	done      chan struct{}
	failed    chan struct{}
	err       error
	completed bool
}

func newTransaction(packets []Packet) *transaction {
	tx := &transaction{
		expected: make(map[Packet]Packet, len(packets)),
		frames:   make(map[Packet][]byte, len(packets)),
		done:     make(chan struct{}),
		failed:   make(chan struct{}),
	}
	for _, p := range packets {
		tx.expected[p.responsePacket()] = p
		tx.order = append(tx.order, p.responsePacket())
	}
	return tx
}

func (tx *transaction) receive(p Packet, raw []byte) {
	if tx.completed || tx.err != nil {
		return
	}
	if _, ok := tx.expected[p]; !ok {
		return
	}
	tx.frames[p] = append([]byte(nil), raw...)
	if len(tx.frames) == len(tx.expected) {
		tx.completed = true
		close(tx.done)
	}
}

func (tx *transaction) fail(err error) {
	if tx.completed || tx.err != nil {
		return
	}
	tx.err = err
	close(tx.failed)
}

func (tx *transaction) collected() [][]byte {
	frames := make([][]byte, 0, len(tx.frames))
	for _, p := range tx.order {
		if raw, ok := tx.frames[p]; ok {
			frames = append(frames, raw)
		}
	}
	return frames
}

func (tx *transaction) missing() []Packet {
	var missing []Packet
	for _, p := range tx.order {
		if _, ok := tx.frames[p]; !ok {
			missing = append(missing, tx.expected[p])
		}
	}
	return missing
}
