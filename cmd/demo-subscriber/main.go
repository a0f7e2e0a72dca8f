// Command demo-subscriber is a minimal application built against the
// client SDK (spec.md §4.H): it issues a general interrogation and logs,
// at debug level, every confirmation the publish channel delivers for
// it; other published messages are not shown. It exists to exercise
// package client end to
// end, the same role the original source's example scripts played.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/fkie-cad/mtuhub/asdu"
	"github.com/fkie-cad/mtuhub/client"
	"github.com/fkie-cad/mtuhub/clog"
	"github.com/fkie-cad/mtuhub/message"
)

func main() {
	commandAddr := flag.String("command-addr", "localhost:8104", "hub command channel address")
	publishAddr := flag.String("publish-addr", "localhost:8105", "hub publish channel address")
	coa := flag.Int("coa", 1, "common address to interrogate")
	flag.Parse()

	log := clog.NewLogger("demo-subscriber")

	cmd, err := client.DialCommandClient(*commandAddr, "demo", client.DefaultWorkers, log)
	if err != nil {
		log.Critical("dial command channel: %v", err)
		return
	}
	pub, err := client.DialPublisherClient(*publishAddr, 0, log)
	if err != nil {
		log.Critical("dial publish channel: %v", err)
		return
	}
	combi := client.NewCombiClient(cmd, pub, log)
	defer combi.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req := message.SysInfoControl{
		Header: message.Header{ID: message.MsgSysInfoControl, ReferenceNr: fmt.Sprintf("%s_1", cmd.Prefix())},
		COA:    asdu.CommonAddr(*coa),
		TypeID: asdu.C_IC_NA_1,
	}

	done := make(chan struct{})
	reply, err := combi.SendTracked(ctx, req, func(msg message.IECMsg) {
		conf, ok := msg.(message.Confirmation)
		if !ok {
			return
		}
		log.Debug("interrogation update: status=%s reason=%s", conf.Status, conf.Reason)
		if conf.Status == message.StatusSuccessfulTerm || conf.Status == message.StatusFail {
			close(done)
		}
	})
	if err != nil {
		log.Critical("send interrogation: %v", err)
		return
	}
	log.Debug("interrogation accepted: %+v", reply)

	select {
	case <-done:
	case <-ctx.Done():
		log.Warn("timed out waiting for interrogation to terminate")
	}
}
