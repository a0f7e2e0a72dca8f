// Package manager implements the subscription manager (spec.md §4.D):
// the glue between the IEC-104 codec's callbacks, the translator, the
// publish server, and the command server's queue, plus the periodic
// aggregator.
package manager

import (
	"fmt"
	"sync"
	"time"

	"github.com/fkie-cad/mtuhub/asdu"
	"github.com/fkie-cad/mtuhub/cache"
	"github.com/fkie-cad/mtuhub/clog"
	"github.com/fkie-cad/mtuhub/internal/metrics"
	"github.com/fkie-cad/mtuhub/message"
	"github.com/fkie-cad/mtuhub/translator"
)

// DefaultAggregationWindow is the periodic aggregator's bounded delay
// (spec.md §4.D: "default 20 ms, configurable").
const DefaultAggregationWindow = 20 * time.Millisecond

// Publisher hands a message to the publish server's FIFO queue.
type Publisher interface {
	Publish(msg message.IECMsg)
}

// QueueDrainer releases the next queued command for a (COA, IOA) pair,
// implemented by package commandserver (spec.md §4.D: "asks the command
// server to drain any command queued for each released (COA, IOA)").
type QueueDrainer interface {
	DrainReleased(coa asdu.CommonAddr, ioa asdu.InfoObjAddr)
}

type aggKey struct {
	COA    asdu.CommonAddr
	TypeID asdu.TypeID
}

type aggBatch struct {
	values message.ValMap
	times  message.TsMap
}

// Manager wires the translator to the publish server and runs the
// periodic aggregator. It holds no long-running loop of its own: every
// method is invoked directly by the codec collaborator's callbacks, one
// goroutine per RTU connection, which is why the aggregator map needs
// its own lock.
type Manager struct {
	tr      *translator.Translator
	cache   *cache.Cache
	pub     Publisher
	drainer QueueDrainer
	refgen  translator.RefGen
	log     clog.Clog
	window  time.Duration
	mtx     *metrics.Metrics

	mu    sync.Mutex
	batch map[aggKey]*aggBatch
}

// SetMetrics wires a metrics collector into the manager; nil (the
// default) disables instrumentation entirely.
func (m *Manager) SetMetrics(mt *metrics.Metrics) {
	m.mtx = mt
}

// New builds a Manager. window<=0 falls back to DefaultAggregationWindow.
func New(tr *translator.Translator, c *cache.Cache, pub Publisher, drainer QueueDrainer, refgen translator.RefGen, log clog.Clog, window time.Duration) *Manager {
	if window <= 0 {
		window = DefaultAggregationWindow
	}
	return &Manager{
		tr: tr, cache: c, pub: pub, drainer: drainer, refgen: refgen, log: log,
		window: window, batch: make(map[aggKey]*aggBatch),
	}
}

// OnSendAPDU wires the codec's on-send-apdu callback. Every message the
// translator produces — whether a subscriber confirmation or a
// hub-initiated report — is published (spec.md §8 "Laws": the full
// SUCCESSFUL_SEND → POSITIVE_CONFIRMATION → SUCCESSFUL_TERM round trip is
// observable on the publish channel).
func (m *Manager) OnSendAPDU(apdu translator.APDU, rtuCOA asdu.CommonAddr) {
	msg, err := m.tr.OnSendAPDU(apdu, rtuCOA)
	if err != nil {
		m.log.Warn("on-send-apdu: %v", err)
		return
	}
	if msg != nil {
		m.pub.Publish(msg)
	}
}

// OnReceiveAPDU wires the codec's on-receive-apdu callback (spec.md
// §4.D, §6). Periodic traffic deferred by the translator is merged into
// the aggregator instead of being published directly; every ACT_CON or
// ACT_TERM additionally drains the command queue for the (COA, IOA)
// pairs it released.
func (m *Manager) OnReceiveAPDU(apdu translator.APDU, rtuCOA asdu.CommonAddr, rawCallback bool) {
	msg, deferred, err := m.tr.OnReceiveAPDU(apdu, rtuCOA, rawCallback)
	if err != nil {
		m.log.Warn("on-receive-apdu: %v (%+v)", err, apdu)
		return
	}
	if deferred {
		m.enqueuePeriodic(rtuCOA, apdu.TypeID, apdu.Values)
		return
	}
	if msg != nil {
		m.pub.Publish(msg)
	}

	switch apdu.COT.Cause {
	case asdu.ActivationCon, asdu.ActivationTerm:
		for _, ioa := range apdu.IOAs {
			m.drainer.DrainReleased(rtuCOA, ioa)
		}
	}
}

// OnReceiveDataPoint wires the codec's on-receive-datapoint callback,
// invoked once per IOA after OnReceiveAPDU has decided the ASDU is
// relevant (spec.md §4.C "Inbound data-point").
func (m *Manager) OnReceiveDataPoint(p translator.DataPoint, cot asdu.CauseOfTransmission) {
	msg, err := m.tr.OnReceiveDataPoint(p, cot)
	if err != nil {
		m.log.Warn("on-receive-datapoint: %v (%+v)", err, p)
		return
	}
	if msg != nil {
		m.pub.Publish(msg)
	}
}

// OnConnectionChange wires the codec's on-connection-change callback
// (spec.md §4.D, §6). A down-edge additionally cancels every in-flight
// command for that RTU in one bulk message (spec.md §8 invariant 3,
// scenario S3).
func (m *Manager) OnConnectionChange(coa asdu.CommonAddr, connected bool, ip string, port int) {
	m.pub.Publish(message.ConnectionStatusChange{
		Header:    message.Header{ID: message.MsgConnectionStatusChange, ReferenceNr: m.refgen.NextMTURef()},
		COA:       coa,
		Connected: connected,
		IP:        ip,
		Port:      port,
	})
	if m.mtx != nil {
		v := 0.0
		if connected {
			v = 1.0
		}
		m.mtx.RTUConnections.WithLabelValues(fmt.Sprintf("%d", coa)).Set(v)
	}
	if connected {
		return
	}
	refs := m.cache.CleanForRTU(coa)
	m.pub.Publish(message.DisconnectCancelMsgsChange{
		Header:          message.Header{ID: message.MsgDisconnectCancelMsgsChange, ReferenceNr: m.refgen.NextMTURef()},
		COA:             coa,
		CancelledRefNrs: refs,
	})
}

// enqueuePeriodic merges values into the in-flight batch for (coa,
// typeID), starting its bounded-delay flush timer on first arrival
// (spec.md §4.D "periodic aggregator", §8 scenario S5).
func (m *Manager) enqueuePeriodic(coa asdu.CommonAddr, typeID asdu.TypeID, values map[asdu.InfoObjAddr]interface{}) {
	key := aggKey{COA: coa, TypeID: typeID}

	m.mu.Lock()
	b, exists := m.batch[key]
	if !exists {
		b = &aggBatch{values: make(message.ValMap)}
		m.batch[key] = b
		time.AfterFunc(m.window, func() { m.flushPeriodic(key) })
	}
	for ioa, v := range values {
		b.values[ioa] = v
	}
	m.mu.Unlock()
}

func (m *Manager) flushPeriodic(key aggKey) {
	m.mu.Lock()
	b, exists := m.batch[key]
	if exists {
		delete(m.batch, key)
	}
	m.mu.Unlock()
	if !exists {
		return
	}
	if m.mtx != nil {
		m.mtx.PeriodicBatchSize.Observe(float64(len(b.values)))
	}
	m.pub.Publish(message.PeriodicUpdate{
		Header: message.Header{ID: message.MsgPeriodicUpdate, ReferenceNr: m.refgen.NextMTURef()},
		COA:    key.COA, TypeID: key.TypeID, ValMap: b.values, TsMap: b.times,
	})
}
