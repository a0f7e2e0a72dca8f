package publishserver

import (
	"net"
	"testing"
	"time"

	"github.com/fkie-cad/mtuhub/clog"
	"github.com/fkie-cad/mtuhub/message"
	"github.com/fkie-cad/mtuhub/transport"
)

// TestBroadcastDeliversInEnqueueOrder grounds spec.md §5: "the publish
// server transmits in enqueue order."
func TestBroadcastDeliversInEnqueueOrder(t *testing.T) {
	s := New(clog.NewLogger("publishserver-test"))
	go s.Run()
	defer s.Close()

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	s.addSubscriber(transport.NewConn(serverConn))

	first := message.Confirmation{Header: message.Header{ReferenceNr: "A_1"}, Status: message.StatusSuccessfulSend}
	second := message.Confirmation{Header: message.Header{ReferenceNr: "A_1"}, Status: message.StatusSuccessfulTerm}
	s.Publish(first)
	s.Publish(second)

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame1, err := transport.ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("read first frame: %v", err)
	}
	frame2, err := transport.ReadFrame(clientConn)
	if err != nil {
		t.Fatalf("read second frame: %v", err)
	}

	msg1, err := message.Decode(frame1)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	msg2, err := message.Decode(frame2)
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if msg1.(message.Confirmation).Status != message.StatusSuccessfulSend {
		t.Fatalf("want SUCCESSFUL_SEND first, got %+v", msg1)
	}
	if msg2.(message.Confirmation).Status != message.StatusSuccessfulTerm {
		t.Fatalf("want SUCCESSFUL_TERM second, got %+v", msg2)
	}
}
