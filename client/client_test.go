package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fkie-cad/mtuhub/clog"
	"github.com/fkie-cad/mtuhub/message"
	"github.com/fkie-cad/mtuhub/transport"
)

func testLogger() clog.Clog { return clog.NewLogger("client-test") }

// fakeCommandServer accepts exactly one connection, answers the
// handshake with prefix, then answers every subsequent frame with
// reply.
func fakeCommandServer(t *testing.T, prefix string, reply message.IECMsg) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tc := transport.NewConn(conn)

		frame, err := tc.ReadFrame()
		if err != nil {
			return
		}
		if _, err := message.Decode(frame); err != nil {
			return
		}
		payload, _ := message.Encode(message.SubscriptionInitReply{
			Header: message.Header{ID: message.MsgSubscriptionInitReply},
			Prefix: prefix,
		})
		_ = tc.WriteFrame(payload)

		for {
			frame, err := tc.ReadFrame()
			if err != nil {
				return
			}
			if _, err := message.Decode(frame); err != nil {
				return
			}
			out, _ := message.Encode(reply)
			if err := tc.WriteFrame(out); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

// TestCommandClientHandshakeAndSend grounds spec.md §4.H: "Handshake is
// performed once at start", and exercises one worker performing one
// request/reply round trip.
func TestCommandClientHandshakeAndSend(t *testing.T) {
	want := message.Confirmation{
		Header: message.Header{ID: message.MsgConfirmation, ReferenceNr: "demo_1"},
		Status: message.StatusSuccessfulSend,
	}
	addr := fakeCommandServer(t, "demo", want)

	cc, err := DialCommandClient(addr, "demo", 1, testLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cc.Close()

	if cc.Prefix() != "demo" {
		t.Fatalf("want prefix demo, got %q", cc.Prefix())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req := message.ProcessInfoControl{Header: message.Header{ID: message.MsgProcessInfoControl, ReferenceNr: "demo_1"}}
	reply, err := cc.Send(ctx, req)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	conf, ok := reply.(message.Confirmation)
	if !ok || conf.Status != message.StatusSuccessfulSend {
		t.Fatalf("want SUCCESSFUL_SEND, got %+v", reply)
	}
}

// fakePublishServer accepts one connection and writes every message in
// msgs back to back, no handshake (the publish channel is a bare
// broadcast, spec.md §4.F).
func fakePublishServer(t *testing.T, msgs []message.IECMsg) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tc := transport.NewConn(conn)
		for _, m := range msgs {
			payload, _ := message.Encode(m)
			if err := tc.WriteFrame(payload); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

// TestPublisherClientDeliversMessages grounds spec.md §4.H "publisher
// client" and the FIFO-order guarantee shared with publishserver.
func TestPublisherClientDeliversMessages(t *testing.T) {
	first := message.Confirmation{Header: message.Header{ID: message.MsgConfirmation, ReferenceNr: "A_1"}, Status: message.StatusSuccessfulSend}
	second := message.Confirmation{Header: message.Header{ID: message.MsgConfirmation, ReferenceNr: "A_1"}, Status: message.StatusSuccessfulTerm}
	addr := fakePublishServer(t, []message.IECMsg{first, second})

	pc, err := DialPublisherClient(addr, 4, testLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer pc.Close()

	timeout := time.After(2 * time.Second)
	var got []message.Confirmation
	for i := 0; i < 2; i++ {
		select {
		case msg := <-pc.Messages():
			got = append(got, msg.(message.Confirmation))
		case <-timeout:
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
	if got[0].Status != message.StatusSuccessfulSend || got[1].Status != message.StatusSuccessfulTerm {
		t.Fatalf("want [SUCCESSFUL_SEND, SUCCESSFUL_TERM], got %+v", got)
	}
}

// TestCombiClientRoutesToCallback grounds spec.md §4.H "combi client":
// an async publish-channel update sharing the command's reference number
// reaches the registered callback, and stops being routed once a
// terminal status has been delivered.
func TestCombiClientRoutesToCallback(t *testing.T) {
	initialReply := message.Confirmation{Header: message.Header{ID: message.MsgConfirmation, ReferenceNr: "demo_1"}, Status: message.StatusWaitingForSend}
	cmdAddr := fakeCommandServer(t, "demo", initialReply)

	term := message.Confirmation{Header: message.Header{ID: message.MsgConfirmation, ReferenceNr: "demo_1"}, Status: message.StatusSuccessfulTerm}
	stray := message.Confirmation{Header: message.Header{ID: message.MsgConfirmation, ReferenceNr: "demo_1"}, Status: message.StatusFail}
	pubAddr := fakePublishServer(t, []message.IECMsg{term, stray})

	cmd, err := DialCommandClient(cmdAddr, "demo", 1, testLogger())
	if err != nil {
		t.Fatalf("dial command: %v", err)
	}
	pub, err := DialPublisherClient(pubAddr, 4, testLogger())
	if err != nil {
		t.Fatalf("dial publish: %v", err)
	}
	combi := NewCombiClient(cmd, pub, testLogger())
	defer combi.Close()

	var mu sync.Mutex
	var calls []message.ConfirmationStatus
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := message.ProcessInfoControl{Header: message.Header{ID: message.MsgProcessInfoControl, ReferenceNr: "demo_1"}}
	if _, err := combi.SendTracked(ctx, req, func(msg message.IECMsg) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, msg.(message.Confirmation).Status)
	}); err != nil {
		t.Fatalf("send tracked: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(calls)
		mu.Unlock()
		if n >= 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 || calls[0] != message.StatusSuccessfulTerm {
		t.Fatalf("want exactly one SUCCESSFUL_TERM callback, got %+v", calls)
	}
}
