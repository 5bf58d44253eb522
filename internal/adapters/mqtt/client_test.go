package mqtt

import (
	"testing"

	"github.com/mikey-austin/media_bridge/pkg/mb"
)

func TestDeliverRoutesByID(t *testing.T) {
	c := &Client{pending: map[string]chan mb.ReplyEnvelope{}}
	ch := make(chan mb.ReplyEnvelope, 1)
	c.pending["c-1"] = ch

	if c.deliver(mb.ReplyEnvelope{ID: "other"}) {
		t.Fatalf("unknown id must be dropped")
	}
	if !c.deliver(mb.ReplyEnvelope{ID: "c-1", OK: true}) {
		t.Fatalf("expected delivery")
	}
	if c.deliver(mb.ReplyEnvelope{ID: "c-1"}) {
		t.Fatalf("duplicate reply must not block or deliver")
	}
	if reply := <-ch; !reply.OK {
		t.Fatalf("unexpected reply %+v", reply)
	}
}
