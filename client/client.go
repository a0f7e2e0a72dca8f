// Package client implements the application-facing SDK (spec.md §4.H):
// a command client with a fixed worker pool of request/reply
// connections, a publisher client reading the broadcast channel onto a
// bounded queue, and a combi client that ties the two together by
// reference number.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fkie-cad/mtuhub/clog"
	"github.com/fkie-cad/mtuhub/message"
	"github.com/fkie-cad/mtuhub/transport"
)

// DefaultWorkers matches the original Python client's
// threading.BoundedSemaphore(3) (SPEC_FULL.md §1.B).
const DefaultWorkers = 3

// DefaultRequestTimeout bounds a single request/reply round trip
// (spec.md §5 "Suspension points": "a reply promise with timeout").
const DefaultRequestTimeout = 10 * time.Second

// ErrNoResponse is returned when a request's deadline elapses before a
// reply arrives (spec.md §5 "Per-request timeout": "the promise is
// resolved with a no-response sentinel").
var ErrNoResponse = errors.New("client: no response within deadline")

// CommandClient owns a fixed-size pool of request/reply connections to
// the hub's command channel; Send blocks only long enough to borrow a
// connection and complete one round trip.
type CommandClient struct {
	addr    string
	sem     *semaphore.Weighted
	conns   chan *transport.Conn
	timeout time.Duration
	log     clog.Clog
	prefix  string
}

// DialCommandClient connects workers connections to addr and performs
// the handshake once per connection (spec.md §4.H: "Handshake is
// performed once at start."), tagging every connection with the same
// subscriber type.
func DialCommandClient(addr, subscriberType string, workers int, log clog.Clog) (*CommandClient, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	c := &CommandClient{
		addr: addr, sem: semaphore.NewWeighted(int64(workers)),
		conns: make(chan *transport.Conn, workers), timeout: DefaultRequestTimeout, log: log,
	}
	for i := 0; i < workers; i++ {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("client: dial %s: %w", addr, err)
		}
		tc := transport.NewConn(conn)
		prefix, err := handshake(tc, subscriberType, log)
		if err != nil {
			return nil, err
		}
		c.prefix = prefix
		c.conns <- tc
	}
	return c, nil
}

func handshake(tc *transport.Conn, subscriberType string, log clog.Clog) (string, error) {
	payload, err := message.Encode(message.SubscriptionInitMsg{
		Header: message.Header{ID: message.MsgSubscriptionInit},
		Type:   subscriberType,
	})
	if err != nil {
		return "", err
	}
	if err := tc.WriteFrame(payload); err != nil {
		return "", err
	}
	frame, err := tc.ReadFrame()
	if err != nil {
		return "", err
	}
	reply, err := message.Decode(frame)
	if err != nil {
		return "", err
	}
	init, ok := reply.(message.SubscriptionInitReply)
	if !ok {
		return "", fmt.Errorf("client: unexpected handshake reply %T", reply)
	}
	if log != nil {
		log.Debug("handshake complete: prefix=%s correlation_id=%s", init.Prefix, init.CorrelationID)
	}
	return init.Prefix, nil
}

// Prefix returns the reference-number prefix assigned at handshake.
func (c *CommandClient) Prefix() string {
	return c.prefix
}

// Send performs one request/reply round trip over a borrowed connection
// (spec.md §4.H "command client"). It blocks until a worker is free, then
// for at most Send's own timeout waiting for the reply.
func (c *CommandClient) Send(ctx context.Context, msg message.IECMsg) (message.IECMsg, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	var conn *transport.Conn
	select {
	case conn = <-c.conns:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { c.conns <- conn }()

	payload, err := message.Encode(msg)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteFrame(payload); err != nil {
		return nil, err
	}
	conn.SetReadDeadline(time.Now().Add(c.timeout))
	frame, err := conn.ReadFrame()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, err
		}
		return nil, ErrNoResponse
	}
	return message.Decode(frame)
}

// Close closes every pooled connection.
func (c *CommandClient) Close() {
	for i := 0; i < cap(c.conns); i++ {
		select {
		case conn := <-c.conns:
			_ = conn.Close()
		default:
		}
	}
}

// PublisherClient subscribes to the publish channel and hands decoded
// messages off through a bounded queue (spec.md §4.H "publisher
// client"). A slow consumer blocks ingestion rather than silently
// dropping messages, preserving publish-order guarantees (spec.md §5).
type PublisherClient struct {
	conn *transport.Conn
	out  chan message.IECMsg
	log  clog.Clog
}

// DialPublisherClient connects to the publish channel and starts reading
// frames into a queue of the given capacity.
func DialPublisherClient(addr string, queueSize int, log clog.Clog) (*PublisherClient, error) {
	if queueSize <= 0 {
		queueSize = 256
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", addr, err)
	}
	p := &PublisherClient{conn: transport.NewConn(conn), out: make(chan message.IECMsg, queueSize), log: log}
	go p.readLoop()
	return p, nil
}

func (p *PublisherClient) readLoop() {
	defer close(p.out)
	for {
		frame, err := p.conn.ReadFrame()
		if err != nil {
			p.log.Warn("publisher client read loop stopped: %v", err)
			return
		}
		msg, err := message.Decode(frame)
		if err != nil {
			p.log.Warn("publisher client decode failed: %v", err)
			continue
		}
		p.out <- msg
	}
}

// Messages returns the channel of incoming published messages, closed
// when the connection ends.
func (p *PublisherClient) Messages() <-chan message.IECMsg {
	return p.out
}

// Close closes the underlying connection, ending the read loop.
func (p *PublisherClient) Close() error {
	return p.conn.Close()
}

// CombiClient composes a CommandClient and a PublisherClient, routing
// asynchronous publish-channel messages back to the callback registered
// for the command that produced their reference number (spec.md §4.H
// "combi client").
type CombiClient struct {
	cmd *CommandClient
	pub *PublisherClient
	log clog.Clog

	mu          sync.Mutex
	outstanding map[string]func(message.IECMsg)
}

// NewCombiClient builds a CombiClient over an already-dialed command and
// publisher client, and starts routing published messages.
func NewCombiClient(cmd *CommandClient, pub *PublisherClient, log clog.Clog) *CombiClient {
	c := &CombiClient{cmd: cmd, pub: pub, log: log, outstanding: make(map[string]func(message.IECMsg))}
	go c.route()
	return c
}

// SendTracked issues msg and registers callback for every subsequent
// publish-channel message sharing msg's reference number (e.g. the
// ACT_CON/ACT_TERM confirmations that follow the initial reply).
func (c *CombiClient) SendTracked(ctx context.Context, msg message.IECMsg, callback func(message.IECMsg)) (message.IECMsg, error) {
	ref := msg.Head().ReferenceNr
	c.mu.Lock()
	c.outstanding[ref] = callback
	c.mu.Unlock()

	reply, err := c.cmd.Send(ctx, msg)
	if err != nil {
		c.mu.Lock()
		delete(c.outstanding, ref)
		c.mu.Unlock()
		return nil, err
	}
	return reply, nil
}

func (c *CombiClient) route() {
	for msg := range c.pub.Messages() {
		ref := msg.Head().ReferenceNr
		c.mu.Lock()
		cb, ok := c.outstanding[ref]
		terminal := isTerminalStatus(msg)
		if ok && terminal {
			delete(c.outstanding, ref)
		}
		c.mu.Unlock()
		if ok && cb != nil {
			cb(msg)
		}
	}
}

func isTerminalStatus(msg message.IECMsg) bool {
	conf, ok := msg.(message.Confirmation)
	if !ok {
		return false
	}
	switch conf.Status {
	case message.StatusSuccessfulTerm, message.StatusFail, message.StatusFinalRespRcvd:
		return true
	default:
		return false
	}
}

// Close tears down both underlying clients.
func (c *CombiClient) Close() {
	c.cmd.Close()
	_ = c.pub.Close()
}
