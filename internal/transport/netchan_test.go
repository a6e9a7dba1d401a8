package transport

import (
	"bytes"
	"testing"
)

type pair struct {
	link     *Link
	srv, cli *Netchan
}

func newPair(cfg LinkConfig, v Variant) *pair {
	l := NewLink(cfg)
	return &pair{link: l, srv: NewNetchan(l.A, v), cli: NewNetchan(l.B, v)}
}

// drain delivers everything queued at ep to ch and returns the payloads.
func drain(ep *Endpoint, ch *Netchan) (rel, unrel [][]byte) {
	for {
		p, ok := ep.Recv()
		if !ok {
			return
		}
		r, u, ok := ch.Process(p)
		if !ok {
			continue
		}
		if len(r) > 0 {
			rel = append(rel, append([]byte(nil), r...))
		}
		unrel = append(unrel, append([]byte(nil), u...))
	}
}

func TestReliableOneInFlight(t *testing.T) {
	p := newPair(LinkConfig{}, VariantLegacy)
	if err := p.srv.Transmit([]byte("first"), []byte("u1")); err != nil {
		t.Fatal(err)
	}
	if p.srv.CanSendReliable() {
		t.Fatal("block should be in flight")
	}
	if err := p.srv.Transmit([]byte("second"), nil); err != ErrReliableBusy {
		t.Fatalf("err = %v, want ErrReliableBusy", err)
	}
	rel, unrel := drain(p.link.B, p.cli)
	if len(rel) != 1 || string(rel[0]) != "first" || string(unrel[0]) != "u1" {
		t.Fatalf("rel %q unrel %q", rel, unrel)
	}
	p.cli.Transmit(nil, nil)
	drain(p.link.A, p.srv)
	if !p.srv.CanSendReliable() {
		t.Fatal("ack did not clear the in-flight block")
	}
}

func TestReliableResentAfterLoss(t *testing.T) {
	p := newPair(LinkConfig{}, VariantLegacy)
	p.srv.Transmit([]byte("hello"), nil)
	p.link.B.Recv() // lost

	// the client answers a later packet without having seen the block
	p.srv.Transmit(nil, []byte("x"))
	drain(p.link.B, p.cli)
	p.cli.Transmit(nil, nil)
	drain(p.link.A, p.srv)

	if got := p.srv.Reserved(0); got != reliableHdr+len("hello") {
		t.Fatalf("reserved = %d", got)
	}
	p.srv.Transmit(nil, nil)
	rel, _ := drain(p.link.B, p.cli)
	if len(rel) != 1 || string(rel[0]) != "hello" {
		t.Fatalf("resend delivered %q", rel)
	}
	if p.srv.Stats().Resent != 1 {
		t.Errorf("resent = %d", p.srv.Stats().Resent)
	}
}

func TestStalePacketsDropped(t *testing.T) {
	p := newPair(LinkConfig{}, VariantLegacy)
	p.srv.Transmit(nil, []byte("a"))
	p.srv.Transmit(nil, []byte("b"))
	a, _ := p.link.B.Recv()
	b, _ := p.link.B.Recv()
	if _, u, ok := p.cli.Process(b); !ok || string(u) != "b" {
		t.Fatal("b rejected")
	}
	if _, _, ok := p.cli.Process(a); ok {
		t.Fatal("older packet accepted")
	}
	if _, _, ok := p.cli.Process(b); ok {
		t.Fatal("duplicate accepted")
	}
	if s := p.cli.Stats(); s.Stale != 2 {
		t.Errorf("stale = %d", s.Stale)
	}
}

func TestReliableOrderUnderLoss(t *testing.T) {
	p := newPair(LinkConfig{Loss: 0.3, Reorder: 0.2, Seed: 7}, VariantLegacy)
	var sent, got []string
	next := 0
	for tick := 0; tick < 2000; tick++ {
		if p.srv.CanSendReliable() && next < 50 {
			msg := string(rune('A' + next%26))
			sent = append(sent, msg)
			next++
			p.srv.Transmit([]byte(msg), nil)
		} else {
			p.srv.Transmit(nil, nil)
		}
		rel, _ := drain(p.link.B, p.cli)
		for _, r := range rel {
			got = append(got, string(r))
		}
		p.cli.Transmit(nil, nil)
		drain(p.link.A, p.srv)
	}
	if len(got) != len(sent) {
		t.Fatalf("delivered %d of %d", len(got), len(sent))
	}
	for i := range sent {
		if got[i] != sent[i] {
			t.Fatalf("order broken at %d: %v vs %v", i, got, sent)
		}
	}
}

func TestFragmentation(t *testing.T) {
	p := newPair(LinkConfig{}, VariantFragmenting)
	big := bytes.Repeat([]byte{0xab}, 5000)
	if err := p.srv.Transmit(big, []byte("tail")); err != nil {
		t.Fatal(err)
	}
	if n := p.srv.Stats().FragmentsOut; n < 4 {
		t.Errorf("fragments = %d", n)
	}
	rel, unrel := drain(p.link.B, p.cli)
	if len(rel) != 1 || !bytes.Equal(rel[0], big) || string(unrel[0]) != "tail" {
		t.Fatalf("reassembly failed: %d reliable", len(rel))
	}

	legacy := newPair(LinkConfig{}, VariantLegacy)
	if err := legacy.srv.Transmit(big, nil); err != ErrTooLarge {
		t.Errorf("legacy err = %v, want ErrTooLarge", err)
	}
}

func TestLostFragmentDropsPacket(t *testing.T) {
	p := newPair(LinkConfig{}, VariantFragmenting)
	p.srv.Transmit(nil, bytes.Repeat([]byte{1}, 3000))
	first, _ := p.link.B.Recv()
	p.link.B.Recv() // lost middle fragment
	last, _ := p.link.B.Recv()
	if _, _, ok := p.cli.Process(first); ok {
		t.Fatal("partial packet delivered")
	}
	if _, _, ok := p.cli.Process(last); ok {
		t.Fatal("packet with a gap delivered")
	}
	p.srv.Transmit(nil, []byte("next"))
	_, unrel := drain(p.link.B, p.cli)
	if len(unrel) != 1 || string(unrel[0]) != "next" {
		t.Fatalf("next packet: %q", unrel)
	}
}
