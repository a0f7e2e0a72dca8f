// Package publishserver implements the publish server (spec.md §4.F,
// §6): a single publisher socket broadcasting every message to every
// connected subscriber in enqueue order, with no per-subscriber
// filtering.
package publishserver

import (
	"net"
	"sync"
	"time"

	"github.com/fkie-cad/mtuhub/clog"
	"github.com/fkie-cad/mtuhub/message"
	"github.com/fkie-cad/mtuhub/transport"
)

// DefaultBindRetries is how many times Listen retries a failed bind
// before giving up (spec.md §4.F: "retries binding up to a configured
// number of attempts; failure is fatal").
const DefaultBindRetries = 5

// DefaultBindRetryDelay is the pause between bind attempts.
const DefaultBindRetryDelay = 2 * time.Second

// Server is the publish server: an in-process FIFO queue drained by a
// single send loop (Run) that writes each message to every connected
// subscriber (spec.md §5: "publish queue is a single producer/consumer
// FIFO").
type Server struct {
	log   clog.Clog
	queue chan message.IECMsg

	mu   sync.Mutex
	subs map[*transport.Conn]struct{}

	closed chan struct{}
}

// New builds a Server. The queue is a buffered channel of 4096
// messages; while it is full, Publish blocks until Run takes a message
// off or the server is closed.
func New(log clog.Clog) *Server {
	return &Server{
		log:    log,
		queue:  make(chan message.IECMsg, 4096),
		subs:   make(map[*transport.Conn]struct{}),
		closed: make(chan struct{}),
	}
}

// Publish enqueues msg for broadcast (manager.Publisher).
func (s *Server) Publish(msg message.IECMsg) {
	select {
	case s.queue <- msg:
	case <-s.closed:
	}
}

// Run drains the queue and broadcasts each message to every currently
// connected subscriber, until Close is called.
func (s *Server) Run() {
	for {
		select {
		case msg := <-s.queue:
			s.broadcast(msg)
		case <-s.closed:
			return
		}
	}
}

func (s *Server) broadcast(msg message.IECMsg) {
	payload, err := message.Encode(msg)
	if err != nil {
		s.log.Error("encode publish message: %v", err)
		return
	}
	s.mu.Lock()
	conns := make([]*transport.Conn, 0, len(s.subs))
	for c := range s.subs {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteFrame(payload); err != nil {
			s.log.Warn("publish to subscriber failed, dropping connection: %v", err)
			s.removeSubscriber(c)
		}
	}
}

func (s *Server) addSubscriber(c *transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[c] = struct{}{}
}

func (s *Server) removeSubscriber(c *transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, c)
	_ = c.Close()
}

// Listen binds addr, retrying up to DefaultBindRetries times before
// treating the failure as fatal (spec.md §4.F), and accepts subscriber
// connections until the listener is closed.
func (s *Server) Listen(addr string) error {
	var ln net.Listener
	var err error
	for attempt := 0; attempt < DefaultBindRetries; attempt++ {
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
		s.log.Warn("publish server bind attempt %d failed: %v", attempt+1, err)
		time.Sleep(DefaultBindRetryDelay)
	}
	if err != nil {
		return err
	}
	defer ln.Close()

	go func() {
		<-s.closed
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
				s.log.Error("publish server accept: %v", err)
				return err
			}
		}
		c := transport.NewConn(conn)
		s.addSubscriber(c)
	}
}

// Close drains no further sends, signals Run and Listen to stop.
func (s *Server) Close() {
	close(s.closed)
}
