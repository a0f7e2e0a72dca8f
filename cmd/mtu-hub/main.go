// Command mtu-hub wires the Message Correlation & Subscription Core
// (spec.md §1, §2) into a runnable daemon: a translator/cache pair
// feeding a subscription manager, a command server and a publish server
// exposed over the command/publish channels, plus an admin server for
// health and metrics. Flag handling and goroutine-group lifecycle follow
// linkerd2's controller/cmd/destination/main.go.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fkie-cad/mtuhub/asdu"
	"github.com/fkie-cad/mtuhub/cache"
	"github.com/fkie-cad/mtuhub/clog"
	"github.com/fkie-cad/mtuhub/commandserver"
	"github.com/fkie-cad/mtuhub/identity"
	"github.com/fkie-cad/mtuhub/internal/metrics"
	"github.com/fkie-cad/mtuhub/manager"
	"github.com/fkie-cad/mtuhub/message"
	"github.com/fkie-cad/mtuhub/publishserver"
	"github.com/fkie-cad/mtuhub/translator"
	"github.com/fkie-cad/mtuhub/transport"
)

func main() {
	logLevel := flag.String("log-level", logrus.InfoLevel.String(), "log level, must be one of: panic, fatal, error, warn, info, debug")
	adminAddr := flag.String("admin-addr", ":9990", "address to serve /ping, /ready and /metrics on")
	commandAddr := flag.String("command-addr", ":8104", "address for the command channel (request/reply)")
	publishAddr := flag.String("publish-addr", ":8105", "address for the publish channel (broadcast)")
	workers := flag.Int64("command-workers", commandserver.DefaultWorkers, "command server worker-pool size")
	aggWindow := flag.Duration("periodic-window", manager.DefaultAggregationWindow, "periodic-update aggregation window")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("invalid -log-level %q: %v", *logLevel, err)
	}
	logrus.SetLevel(level)
	log := clog.NewLogger("mtu-hub")

	mtx, reg := metrics.New()

	c := cache.New()
	refgen := identity.New()
	tr := translator.New(c, translator.DefaultPolicy(), refgen, clog.NewLogger("translator"))

	pub := publishserver.New(clog.NewLogger("publishserver"))

	rtus := newRTURegistry()
	cs := commandserver.New(c, noopCodec{log: clog.NewLogger("codec")}, refgen, rtus, rtus, clog.NewLogger("commandserver"), *workers)
	cs.SetMetrics(mtx)

	mgr := manager.New(tr, c, pub, cs, refgen, clog.NewLogger("manager"), *aggWindow)
	mgr.SetMetrics(mtx)

	ready := false
	adminServer := metrics.NewServer(*adminAddr, reg, func() bool { return ready })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Debug("starting admin server on %s", *adminAddr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		pub.Run()
		return nil
	})

	g.Go(func() error {
		log.Debug("starting publish channel on %s", *publishAddr)
		return pub.Listen(*publishAddr)
	})

	g.Go(func() error {
		log.Debug("starting command channel on %s", *commandAddr)
		return serveCommandChannel(gctx, *commandAddr, cs, clog.NewLogger("command-channel"))
	})

	ready = true

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-stop:
		log.Warn("received %s, shutting down", sig)
	case <-gctx.Done():
		log.Error("a supervised goroutine failed, shutting down")
	}

	cancel()
	pub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = adminServer.Shutdown(shutdownCtx)

	if err := g.Wait(); err != nil {
		log.Error("shutdown: %v", err)
	}
}

// serveCommandChannel binds addr and runs one request/reply loop per
// connection, framing with package transport and dispatching through
// cs.Handle, the command channel's concrete transport (spec.md §6).
func serveCommandChannel(ctx context.Context, addr string, cs *commandserver.Server, log clog.Clog) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go handleCommandConn(ctx, transport.NewConn(conn), cs, log)
	}
}

func handleCommandConn(ctx context.Context, conn *transport.Conn, cs *commandserver.Server, log clog.Clog) {
	defer conn.Close()
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			return
		}
		msg, err := message.Decode(frame)
		if errors.Is(err, message.ErrUnknownMessage) {
			// An unknown id is answered with the UnknownMessage sentinel,
			// carrying the request's reference number.
			var hdr message.Header
			_ = json.Unmarshal(frame, &hdr)
			msg, err = message.UnknownMessage{Header: hdr}, nil
		}
		if err != nil {
			log.Warn("decode command frame: %v", err)
			continue
		}
		reply := cs.Handle(ctx, msg)
		payload, err := message.Encode(reply)
		if err != nil {
			log.Error("encode command reply: %v", err)
			return
		}
		if err := conn.WriteFrame(payload); err != nil {
			return
		}
	}
}

// noopCodec is the placeholder translator.Codec used when no concrete
// IEC-104 transport is configured: the wire codec is out of scope
// (spec.md §1, SPEC_FULL.md §1.B) and is expected to be supplied by an
// operator-specific build that plugs a real collaborator in here.
type noopCodec struct {
	log clog.Clog
}

func (n noopCodec) Send(apdu translator.APDU) error {
	n.log.Warn("no RTU codec configured, dropping send to COA %d", apdu.COA)
	return errNoCodec
}

func (n noopCodec) SendSysInfo(typeID asdu.TypeID, coa asdu.CommonAddr, cot asdu.CauseOfTransmission) error {
	n.log.Warn("no RTU codec configured, dropping sys-info send to COA %d", coa)
	return errNoCodec
}

func (n noopCodec) SendParameterActivate(coa asdu.CommonAddr, ioa asdu.InfoObjAddr, cot asdu.CauseOfTransmission) error {
	n.log.Warn("no RTU codec configured, dropping parameter-activate to %d.%d", coa, ioa)
	return errNoCodec
}

func (n noopCodec) UpdateDatapoint(coa asdu.CommonAddr, ioa asdu.InfoObjAddr, value interface{}) {}

var errNoCodec = errors.New("mtu-hub: no RTU codec configured")

// rtuRegistry tracks which RTUs are currently connected, satisfying both
// commandserver.RTULister and commandserver.StatusProvider. It starts
// empty; a real codec plugin would call markConnected from its own
// connection callbacks (spec.md §4.D).
type rtuRegistry struct {
	mu        sync.Mutex
	connected map[asdu.CommonAddr]bool
}

func newRTURegistry() *rtuRegistry {
	return &rtuRegistry{connected: make(map[asdu.CommonAddr]bool)}
}

func (r *rtuRegistry) KnownRTUs() []asdu.CommonAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]asdu.CommonAddr, 0, len(r.connected))
	for coa, up := range r.connected {
		if up {
			out = append(out, coa)
		}
	}
	return out
}

func (r *rtuRegistry) RTUStatus() map[asdu.CommonAddr]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[asdu.CommonAddr]bool, len(r.connected))
	for coa, up := range r.connected {
		out[coa] = up
	}
	return out
}

func (r *rtuRegistry) Datapoints() map[asdu.CommonAddr]map[asdu.InfoObjAddr]interface{} {
	return map[asdu.CommonAddr]map[asdu.InfoObjAddr]interface{}{}
}

func (r *rtuRegistry) markConnected(coa asdu.CommonAddr, up bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected[coa] = up
}
