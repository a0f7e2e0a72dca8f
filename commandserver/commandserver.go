// Package commandserver implements the command server (spec.md §4.E,
// §6): the request/reply endpoint applications use to issue commands,
// with FIFO per-(COA, IOA) queueing on collision and a bounded worker
// pool, grounded on the Python source's SubscriptionCommandHandler.
package commandserver

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/fkie-cad/mtuhub/asdu"
	"github.com/fkie-cad/mtuhub/cache"
	"github.com/fkie-cad/mtuhub/clog"
	"github.com/fkie-cad/mtuhub/identity"
	"github.com/fkie-cad/mtuhub/internal/metrics"
	"github.com/fkie-cad/mtuhub/message"
	"github.com/fkie-cad/mtuhub/translator"
)

// DefaultWorkers is the command server's worker pool size (spec.md §5:
// "The command server has a worker pool of N tasks (default 6).").
const DefaultWorkers = 6

// RTULister reports which RTUs the codec currently knows about, needed
// to fan a GLOBAL_COA command out into one per-RTU activation (spec.md
// §4.B "GLOBAL_COA fan-out").
type RTULister interface {
	KnownRTUs() []asdu.CommonAddr
}

// StatusProvider answers the introspection requests (spec.md §4.E):
// total interrogation and bare RTU-status both report connection state,
// the former also reports the hub's last-seen data point values.
type StatusProvider interface {
	RTUStatus() map[asdu.CommonAddr]bool
	Datapoints() map[asdu.CommonAddr]map[asdu.InfoObjAddr]interface{}
}

type queuedCmd struct {
	msg message.IECMsg
}

// Server is the command server. One Server instance is shared by every
// connection's request-handling goroutine; its only private mutable
// state is the per-(COA, IOA) queue map, guarded by its own lock,
// distinct from the cache's own locks (spec.md §5 "no task holds a
// cache lock across an I/O call").
type Server struct {
	cache  *cache.Cache
	codec  translator.Codec
	refgen *identity.Generator
	rtus   RTULister
	status StatusProvider
	log    clog.Clog
	sem    *semaphore.Weighted
	mtx    *metrics.Metrics

	qmu    sync.Mutex
	queues map[cache.DPKey][]queuedCmd
}

// SetMetrics wires a metrics collector into the server; nil (the
// default) disables instrumentation entirely.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.mtx = m
}

// New builds a Server with the given worker-pool size (DefaultWorkers if
// workers<=0).
func New(c *cache.Cache, codec translator.Codec, refgen *identity.Generator, rtus RTULister, status StatusProvider, log clog.Clog, workers int64) *Server {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Server{
		cache: c, codec: codec, refgen: refgen, rtus: rtus, status: status, log: log,
		sem: semaphore.NewWeighted(workers), queues: make(map[cache.DPKey][]queuedCmd),
	}
}

// Handle decodes and dispatches one request, returning the reply to
// serialize back to the caller (spec.md §6 "Command channel"). It blocks
// until a worker slot is free, bounding concurrent command execution to
// the configured pool size.
func (s *Server) Handle(ctx context.Context, msg message.IECMsg) message.IECMsg {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return message.NewConfirmation(msg, message.StatusFail, message.ReasonNetwork)
	}
	defer s.sem.Release(1)
	return s.dispatch(msg)
}

func (s *Server) dispatch(msg message.IECMsg) message.IECMsg {
	reply := s.route(msg)
	if s.mtx != nil {
		if conf, ok := reply.(message.Confirmation); ok {
			s.mtx.CommandsTotal.WithLabelValues(string(conf.Status)).Inc()
		}
	}
	return reply
}

func (s *Server) route(msg message.IECMsg) message.IECMsg {
	switch m := msg.(type) {
	case message.SubscriptionInitMsg:
		return s.onSubscriptionInit(m)
	case message.ProcessInfoControl:
		return s.onProcessInfoControl(m)
	case message.ReadDatapoint:
		return s.onReadDatapoint(m)
	case message.SysInfoControl:
		return s.onSysInfoControl(m)
	case message.ParameterActivate:
		return s.onParameterActivation(m)
	case message.TotalInterroReq:
		return s.onTotalInterroReq(m)
	case message.RTUStatusReq:
		return s.onRTUStatusReq(m)
	case message.MtuCacheReq:
		return s.onMtuCacheReq(m)
	default:
		return message.UnknownMessage{Header: message.Header{ID: message.MsgUnknownMessage, ReferenceNr: msg.Head().ReferenceNr}}
	}
}

func (s *Server) onSubscriptionInit(msg message.SubscriptionInitMsg) message.IECMsg {
	prefix := s.refgen.SubscriptionPrefix(msg.Type)
	return message.SubscriptionInitReply{
		Header:        message.Header{ID: message.MsgSubscriptionInitReply, ReferenceNr: msg.ReferenceNr},
		Prefix:        prefix,
		CorrelationID: identity.CorrelationID(),
	}
}

// checkCollision reports a non-nil Confirmation when any ioa already has
// a non-terminal entry (spec.md §7 "Collision"): QUEUED if the command
// asked to queue, FAIL/COLLISION otherwise. The caller is responsible
// for enqueueing when the returned status is QUEUED.
func (s *Server) checkCollision(coa asdu.CommonAddr, ioas []asdu.InfoObjAddr, queueOnCollision bool, hdr message.Header) *message.Confirmation {
	for _, ioa := range ioas {
		entry, active := s.cache.DataPoints.LookupIfActive(cache.DPKey{COA: coa, IOA: ioa})
		if !active {
			continue
		}
		conf := message.NewConfirmation(headerMsg{hdr}, confirmationStatus(queueOnCollision), message.ReasonCollision)
		conf.COA = coa
		conf.IOA = ioa
		conf.CollisionDP = fmt.Sprintf("%d:%d", coa, ioa)
		conf.CollisionReference = entry.Msg.Head().ReferenceNr
		if s.mtx != nil {
			s.mtx.CollisionsTotal.WithLabelValues(string(conf.Status)).Inc()
		}
		return &conf
	}
	return nil
}

func confirmationStatus(queueOnCollision bool) message.ConfirmationStatus {
	if queueOnCollision {
		return message.StatusQueued
	}
	return message.StatusFail
}

// isRTUConnected reports whether coa is a currently connected RTU
// (spec.md §5 "check-is-executable": a command targeting a disconnected
// RTU fails immediately, before collision checking). An unset
// StatusProvider is treated as "connected" so a server wired without
// status tracking does not reject every command.
func (s *Server) isRTUConnected(coa asdu.CommonAddr) bool {
	if s.status == nil {
		return true
	}
	up, known := s.status.RTUStatus()[coa]
	return known && up
}

// headerMsg adapts a bare Header to IECMsg so checkCollision can reuse
// NewConfirmation without requiring the original concrete message type.
type headerMsg struct{ h message.Header }

func (m headerMsg) Head() message.Header { return m.h }

func (s *Server) onProcessInfoControl(msg message.ProcessInfoControl) message.IECMsg {
	if !s.isRTUConnected(msg.COA) {
		return message.NewConfirmation(msg, message.StatusFail, message.ReasonNetwork)
	}
	ioas := make([]asdu.InfoObjAddr, 0, len(msg.ValMap))
	for ioa := range msg.ValMap {
		ioas = append(ioas, ioa)
	}
	if conf := s.checkCollision(msg.COA, ioas, msg.QueueOnCollision, msg.Header); conf != nil {
		if conf.Status == message.StatusQueued {
			s.enqueue(msg.COA, conf.IOA, msg)
		}
		return *conf
	}

	tries := msg.MaxTries
	if tries <= 0 {
		tries = 1
	}
	var stillSending []asdu.InfoObjAddr
	for ioa, val := range msg.ValMap {
		key := cache.DPKey{COA: msg.COA, IOA: ioa}
		if err := s.cache.DataPoints.InsertNewActive(key, &cache.Entry{Msg: msg, Status: cache.WaitingForSend}); err != nil {
			return message.NewConfirmation(msg, message.StatusFail, message.ReasonCollision)
		}
		s.codec.UpdateDatapoint(msg.COA, ioa, val)

		sent := false
		for attempt := 0; attempt < tries && !sent; attempt++ {
			apdu := translator.APDU{TypeID: msg.TypeID, COT: asdu.CauseOfTransmission{Cause: asdu.Activation}, COA: msg.COA, IOAs: []asdu.InfoObjAddr{ioa}, Values: msg.ValMap}
			if err := s.codec.Send(apdu); err == nil {
				sent = true
			} else {
				s.log.Warn("send %d.%d failed: %v", msg.COA, ioa, err)
			}
		}
		if !sent {
			s.cache.DataPoints.RemoveActive(key)
			conf := message.NewConfirmation(msg, message.StatusFail, message.ReasonNetwork)
			conf.StillSending = stillSending
			return conf
		}
		stillSending = append(stillSending, ioa)
	}
	return message.NewConfirmation(msg, message.StatusWaitingForSend, "")
}

func (s *Server) onReadDatapoint(msg message.ReadDatapoint) message.IECMsg {
	if !s.isRTUConnected(msg.COA) {
		return message.NewConfirmation(msg, message.StatusFail, message.ReasonNetwork)
	}
	if conf := s.checkCollision(msg.COA, []asdu.InfoObjAddr{msg.IOA}, msg.QueueOnCollision, msg.Header); conf != nil {
		if conf.Status == message.StatusQueued {
			s.enqueue(msg.COA, msg.IOA, msg)
		}
		return *conf
	}
	key := cache.DPKey{COA: msg.COA, IOA: msg.IOA}
	if err := s.cache.DataPoints.InsertNewActive(key, &cache.Entry{Msg: msg, Status: cache.WaitingForSend}); err != nil {
		return message.NewConfirmation(msg, message.StatusFail, message.ReasonCollision)
	}

	tries := msg.MaxTries
	if tries <= 0 {
		tries = 1
	}
	sent := false
	for attempt := 0; attempt < tries && !sent; attempt++ {
		apdu := translator.APDU{TypeID: asdu.C_RD_NA_1, COT: asdu.CauseOfTransmission{Cause: asdu.Request}, COA: msg.COA, IOAs: []asdu.InfoObjAddr{msg.IOA}}
		if err := s.codec.Send(apdu); err == nil {
			sent = true
		}
	}
	if !sent {
		s.cache.DataPoints.RemoveActive(key)
		return message.NewConfirmation(msg, message.StatusFail, message.ReasonNetwork)
	}
	return message.NewConfirmation(msg, message.StatusWaitingForSend, "")
}

func (s *Server) onSysInfoControl(msg message.SysInfoControl) message.IECMsg {
	entry := &cache.Entry{Msg: msg, Status: cache.WaitingForSend}
	cot := asdu.CauseOfTransmission{Cause: asdu.Activation}

	if msg.COA == asdu.GlobalCommonAddr && msg.TypeID.GlobalCompatible() {
		var rtus []asdu.CommonAddr
		if s.rtus != nil {
			rtus = s.rtus.KnownRTUs()
		}
		if err := s.cache.Global.StartFanout(msg.TypeID, entry, rtus); err != nil {
			return message.NewConfirmation(msg, message.StatusFail, message.ReasonCollision)
		}
		for _, rtu := range rtus {
			if msg.TypeID == asdu.C_IC_NA_1 {
				_ = s.cache.Interrogation.InsertNewActive(rtu, &cache.InterrogationEntry{Cmd: msg, Status: cache.WaitingForSend})
			}
			s.cache.Global.ActivateForRTU(msg.TypeID, rtu, entry)
			if err := s.codec.SendSysInfo(msg.TypeID, rtu, cot); err != nil {
				s.log.Warn("send-sys-info to %d failed: %v", rtu, err)
			}
		}
		return message.NewConfirmation(msg, message.StatusWaitingForSend, "")
	}

	key := cache.GlobalKey{COA: msg.COA, TypeID: msg.TypeID}
	if err := s.cache.Global.InsertNewActive(key, entry); err != nil {
		return message.NewConfirmation(msg, message.StatusFail, message.ReasonCollision)
	}
	if msg.TypeID == asdu.C_IC_NA_1 {
		_ = s.cache.Interrogation.InsertNewActive(msg.COA, &cache.InterrogationEntry{Cmd: msg, Status: cache.WaitingForSend})
	}
	if err := s.codec.SendSysInfo(msg.TypeID, msg.COA, cot); err != nil {
		s.cache.Global.PopActive(key)
		return message.NewConfirmation(msg, message.StatusFail, message.ReasonNetwork)
	}
	return message.NewConfirmation(msg, message.StatusWaitingForSend, "")
}

func (s *Server) onParameterActivation(msg message.ParameterActivate) message.IECMsg {
	if conf := s.checkCollision(msg.COA, []asdu.InfoObjAddr{msg.IOA}, false, msg.Header); conf != nil {
		return *conf
	}
	key := cache.DPKey{COA: msg.COA, IOA: msg.IOA}
	entry := &cache.Entry{Msg: msg, Status: cache.WaitingForSend}
	if err := s.cache.Parameters.InsertNewActive(key, entry); err != nil {
		return message.NewConfirmation(msg, message.StatusFail, message.ReasonCollision)
	}
	cause := asdu.Activation
	if !msg.Activate {
		cause = asdu.Deactivation
	}
	if err := s.codec.SendParameterActivate(msg.COA, msg.IOA, asdu.CauseOfTransmission{Cause: cause}); err != nil {
		s.cache.Parameters.RemoveActive(key)
		return message.NewConfirmation(msg, message.StatusFail, message.ReasonNetwork)
	}
	return message.NewConfirmation(msg, message.StatusWaitingForSend, "")
}

func (s *Server) onTotalInterroReq(msg message.TotalInterroReq) message.IECMsg {
	reply := message.TotalInterroReply{Header: message.Header{ID: message.MsgTotalInterroReply, ReferenceNr: msg.ReferenceNr}}
	if s.status != nil {
		reply.RTUStatus = s.status.RTUStatus()
		reply.MTUDatapoints = s.status.Datapoints()
	}
	return reply
}

func (s *Server) onRTUStatusReq(msg message.RTUStatusReq) message.IECMsg {
	reply := message.RTUStatusReply{Header: message.Header{ID: message.MsgRTUStatusReply, ReferenceNr: msg.ReferenceNr}}
	if s.status != nil {
		reply.RTUStatus = s.status.RTUStatus()
	}
	return reply
}

func (s *Server) onMtuCacheReq(msg message.MtuCacheReq) message.IECMsg {
	return message.MtuCacheReply{Header: message.Header{ID: message.MsgMtuCacheReply, ReferenceNr: msg.ReferenceNr}, Cache: s.cache.Snapshot()}
}

// enqueue appends a collided command to its (coa, ioa) FIFO queue
// (spec.md §8 scenario S2).
func (s *Server) enqueue(coa asdu.CommonAddr, ioa asdu.InfoObjAddr, msg message.IECMsg) {
	key := cache.DPKey{COA: coa, IOA: ioa}
	s.qmu.Lock()
	defer s.qmu.Unlock()
	s.queues[key] = append(s.queues[key], queuedCmd{msg: msg})
}

// DrainReleased pops and re-submits the next queued command for (coa,
// ioa), if any (manager.QueueDrainer, spec.md §4.D/§4.E: "drained by
// §4.D after each release"). Re-submission runs on its own goroutine so
// the manager's callback is never blocked on a retry loop.
func (s *Server) DrainReleased(coa asdu.CommonAddr, ioa asdu.InfoObjAddr) {
	key := cache.DPKey{COA: coa, IOA: ioa}
	s.qmu.Lock()
	queue := s.queues[key]
	if len(queue) == 0 {
		s.qmu.Unlock()
		return
	}
	next := queue[0]
	s.queues[key] = queue[1:]
	s.qmu.Unlock()

	go func() {
		ctx := context.Background()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)
		s.dispatch(next.msg)
	}()
}
