package sim

import (
	"bytes"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"

	"panelbus/brain"
	"panelbus/canbus"
	"panelbus/core"
	"panelbus/protocol"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// randomPanels returns n panels with distinct, reproducible UIDs
func randomPanels(n int, seed uint64) []PanelSpec {
	rng := rand.New(rand.NewPCG(seed, seed^0x5eed))
	seen := make(map[uint32]bool)
	var specs []PanelSpec
	for len(specs) < n {
		uid := core.UID{rng.Uint32(), rng.Uint32(), rng.Uint32()}
		// Distinct first fragments keep every round a one-stage race
		if seen[uid.Fragment(1)] {
			continue
		}
		seen[uid.Fragment(1)] = true
		specs = append(specs, PanelSpec{UID: uid, Type: uint32(len(specs) % 4), Version: 1})
	}
	return specs
}

func newRack(t *testing.T, panels []PanelSpec) *Rack {
	t.Helper()
	r := NewRack(Config{Brain: brain.DefaultConfig(), Panels: panels}, quietLogger())
	r.Start()
	return r
}

func settle(t *testing.T, r *Rack, limit uint32) {
	t.Helper()
	if _, err := r.RunUntilQuiet(limit); err != nil {
		t.Fatal(err)
	}
}

// hostMessages decodes the controller's serial output
func hostMessages(t *testing.T, r *Rack) []protocol.Message {
	t.Helper()
	var msgs []protocol.Message
	rx := protocol.NewTransport(protocol.NewScratchOutput(), func(p []byte) {
		m, err := protocol.ParseMessage(p)
		if err != nil {
			t.Fatalf("bad host message % x: %v", p, err)
		}
		msgs = append(msgs, m)
	})
	rx.Receive(protocol.NewSliceInputBuffer(r.HostRead()))
	return msgs
}

func hostSend(t *testing.T, r *Rack, m protocol.Message) {
	t.Helper()
	frame, err := protocol.Encode(m.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if n := r.HostWrite(frame); n != len(frame) {
		t.Fatalf("HostWrite accepted %d of %d bytes", n, len(frame))
	}
}

func TestRackAssignsDistinctIDs(t *testing.T) {
	specs := randomPanels(20, 1)
	r := newRack(t, specs)
	settle(t, r, 10000)

	ids := make(map[uint8]bool)
	for i, n := range r.Nodes() {
		id := n.Client.ShortID()
		if !core.ValidShortID(id) {
			t.Fatalf("panel %d has no id", i)
		}
		if ids[id] {
			t.Errorf("id %d assigned twice", id)
		}
		ids[id] = true

		row, ok := r.Controller().Table().Lookup(id)
		if !ok || row.UID != n.Spec.UID || row.Type != n.Spec.Type {
			t.Errorf("panel %d: table row %+v", i, row)
		}
		if n.Client.Mode() != core.ModeRun {
			t.Errorf("panel %d mode %v", i, n.Client.Mode())
		}
	}
	if r.Controller().Table().Count() != 20 {
		t.Errorf("table has %d rows", r.Controller().Table().Count())
	}
}

func TestRackLowestFragmentWins(t *testing.T) {
	low := PanelSpec{UID: core.UID{0x10000000, 1, 1}, Type: 1}
	high := PanelSpec{UID: core.UID{0x20000000, 2, 2}, Type: 2}
	r := newRack(t, []PanelSpec{high, low})

	// Run until the first registration
	for i := 0; i < 100 && r.Controller().Table().Count() == 0; i++ {
		r.Step()
	}
	row, ok := r.Controller().Table().Lookup(1)
	if !ok || row.UID != low.UID {
		t.Fatalf("id 1 went to %+v, want the lower UID", row)
	}

	nodes := r.Nodes()
	if nodes[0].Client.Stats().Fallbacks == 0 {
		t.Error("the higher panel should have fallen back")
	}

	settle(t, r, 5000)
	if nodes[0].Client.ShortID() != 2 || nodes[1].Client.ShortID() != 1 {
		t.Errorf("ids: high=%d low=%d", nodes[0].Client.ShortID(), nodes[1].Client.ShortID())
	}
	if s := r.Controller().Arbiter().Stats(); s.Busy == 0 {
		t.Error("competing DETECT_1 should have been counted busy")
	}
}

func TestRackReconnectKeepsID(t *testing.T) {
	r := newRack(t, randomPanels(3, 7))
	settle(t, r, 5000)

	before := r.Nodes()[1].Client.ShortID()
	if err := r.Unplug(1); err != nil {
		t.Fatal(err)
	}
	r.Run(1000)
	if err := r.Plug(1); err != nil {
		t.Fatal(err)
	}
	settle(t, r, 5000)

	if got := r.Nodes()[1].Client.ShortID(); got != before {
		t.Errorf("reconnected panel got id %d, had %d", got, before)
	}
	if r.Controller().Table().Count() != 3 {
		t.Errorf("table has %d rows", r.Controller().Table().Count())
	}
}

func TestRackHotPlug(t *testing.T) {
	r := newRack(t, randomPanels(2, 3))
	settle(t, r, 5000)

	extra := r.AddPanel(PanelSpec{UID: core.UID{0xFEEDF00D, 0, 1}, Type: 9})
	settle(t, r, 5000)
	if extra.Client.ShortID() != 3 || extra.Client.Mode() != core.ModeRun {
		t.Errorf("hot-plugged panel: id %d mode %v", extra.Client.ShortID(), extra.Client.Mode())
	}
}

func TestRackExhaustion(t *testing.T) {
	specs := randomPanels(core.MaxShortID+1, 11)
	r := newRack(t, specs)
	settle(t, r, 20000)

	var configured, parked int
	ids := make(map[uint8]bool)
	for _, n := range r.Nodes() {
		if n.Client.Configured() {
			configured++
			ids[n.Client.ShortID()] = true
		} else {
			parked++
		}
	}
	if configured != core.MaxShortID || len(ids) != core.MaxShortID || parked != 1 {
		t.Errorf("configured=%d distinct=%d parked=%d", configured, len(ids), parked)
	}
	if s := r.Controller().Arbiter().Stats(); s.AllocFailures == 0 {
		t.Error("expected allocation failures")
	}

	// The refused panel stays parked and the table does not move
	before := tableRows(r)
	r.Run(3000)
	for i, n := range r.Nodes() {
		if !n.Client.Configured() && !n.Client.Rejected() {
			t.Errorf("panel %d is parked without a refusal", i)
		}
	}
	assertRows(t, r, before)
}

func TestRackHostLink(t *testing.T) {
	r := newRack(t, randomPanels(3, 5))
	settle(t, r, 5000)

	msgs := hostMessages(t, r)
	if len(msgs) == 0 || msgs[0].Command != protocol.HostCmdReset {
		t.Fatalf("host should first see RESET, got %+v", msgs)
	}
	var infos int
	for _, m := range msgs {
		if _, _, err := protocol.ParsePanelInfo(m); err == nil {
			infos++
		}
	}
	if infos != 3 {
		t.Errorf("expected 3 unsolicited PNL_INFO, got %d", infos)
	}

	hostSend(t, r, protocol.HostCommand(protocol.HostCmdNumPanels))
	r.Run(2)
	msgs = hostMessages(t, r)
	if len(msgs) != 1 || !bytes.Equal(msgs[0].Data, []byte{3}) {
		t.Errorf("NUM_PNLS response %+v", msgs)
	}

	// LED command reaches the panel
	node := r.Nodes()[2]
	id := node.Client.ShortID()
	cmd := core.LEDCommand{LED: 4, Mode: core.LEDOn, Colours: []core.Colour{{R: 9, G: 8, B: 7}}}
	payload, _ := cmd.Payload()
	hostSend(t, r, protocol.CANMessage(uint16(core.RuntimeID(core.OpLED, id)), payload))
	r.Run(3)
	if led, _ := node.LEDs.Get(4); led.Mode != core.LEDOn || led.Primary != (core.Colour{R: 9, G: 8, B: 7}) {
		t.Errorf("LED 4 = %+v", led)
	}

	// Panel event reaches the host
	if err := r.SendEvent(2, core.OpSwitch, []byte{1, 0}); err != nil {
		t.Fatal(err)
	}
	r.Run(3)
	msgs = hostMessages(t, r)
	if len(msgs) != 1 || msgs[0].Host || msgs[0].CANID != uint16(core.RuntimeID(core.OpSwitch, id)) {
		t.Errorf("expected SWITCH event, got %+v", msgs)
	}
}

// tableRows maps every registered UID to its short id
func tableRows(r *Rack) map[core.UID]uint8 {
	rows := make(map[core.UID]uint8)
	for _, p := range r.Controller().Table().Panels() {
		rows[p.UID] = p.ShortID
	}
	return rows
}

func assertRows(t *testing.T, r *Rack, want map[core.UID]uint8) {
	t.Helper()
	got := tableRows(r)
	if len(got) != len(want) {
		t.Errorf("table has %d rows, want %d", len(got), len(want))
	}
	for uid, id := range want {
		if got[uid] != id {
			t.Errorf("row %s: id %d, want %d", uid, got[uid], id)
		}
	}
}

// assertRegistered checks every online panel runs under a short id whose
// row carries its UID
func assertRegistered(t *testing.T, r *Rack) {
	t.Helper()
	ids := make(map[uint8]bool)
	for i, n := range r.Nodes() {
		if !n.Online() {
			continue
		}
		id := n.Client.ShortID()
		if n.Client.Mode() != core.ModeRun {
			t.Errorf("panel %d mode %v", i, n.Client.Mode())
		}
		if ids[id] {
			t.Errorf("id %d held twice", id)
		}
		ids[id] = true
		row, ok := r.Controller().Table().Lookup(id)
		if !ok || row.UID != n.Spec.UID {
			t.Errorf("panel %d holds id %d, table row %+v", i, id, row)
		}
	}
}

func TestRackControllerReboot(t *testing.T) {
	r := newRack(t, randomPanels(3, 13))
	settle(t, r, 5000)

	r.RebootController()
	if r.Controller().Table().Count() != 0 {
		t.Fatal("rebooted controller should start with an empty table")
	}
	settle(t, r, 5000)

	if got := r.Controller().Table().Count(); got != 3 {
		t.Errorf("table has %d rows, want 3", got)
	}
	assertRegistered(t, r)
}

func TestRackControllerRebootTwice(t *testing.T) {
	r := newRack(t, randomPanels(5, 17))
	settle(t, r, 5000)

	for i := 0; i < 2; i++ {
		r.RebootController()
		settle(t, r, 5000)
		if got := r.Controller().Table().Count(); got != 5 {
			t.Fatalf("reboot %d: table has %d rows, want 5", i, got)
		}
	}
	assertRegistered(t, r)
}

func TestRackHostResetReannounces(t *testing.T) {
	r := newRack(t, randomPanels(3, 19))
	settle(t, r, 5000)
	r.HostRead()
	before := tableRows(r)

	hostSend(t, r, protocol.HostCommand(protocol.HostCmdReset))
	settle(t, r, 5000)

	msgs := hostMessages(t, r)
	if len(msgs) == 0 || msgs[0].Command != protocol.HostCmdReset {
		t.Fatalf("host should first see RESET, got %+v", msgs)
	}
	infos := make(map[uint8]bool)
	for _, m := range msgs {
		if id, _, err := protocol.ParsePanelInfo(m); err == nil {
			infos[id] = true
		}
	}
	if len(infos) != 3 {
		t.Errorf("expected PNL_INFO from 3 panels, got %v", infos)
	}
	assertRows(t, r, before)
	assertRegistered(t, r)
}

func TestRackSharedPrefixes(t *testing.T) {
	var specs []PanelSpec
	for i := 0; i < 6; i++ {
		var uid core.UID
		uid.SetFragment(1, 0x123456)
		uid.SetFragment(2, 0x000100*uint32(1+i%2))
		uid.SetFragment(3, 0xABCDEF)
		uid.SetFragment(4, uint32(0x800000-i))
		specs = append(specs, PanelSpec{UID: uid, Type: 1})
	}
	r := newRack(t, specs)
	settle(t, r, 10000)

	if got := r.Controller().Table().Count(); got != 6 {
		t.Errorf("table has %d rows, want 6", got)
	}
	assertRegistered(t, r)
}

func TestRackKnownPanelSurvivesExhaustion(t *testing.T) {
	specs := randomPanels(core.MaxShortID, 23)
	r := newRack(t, specs)
	settle(t, r, 20000)
	before := tableRows(r)
	if len(before) != core.MaxShortID {
		t.Fatalf("table has %d rows", len(before))
	}

	// The panel with the highest first fragment loses every race
	highest := 0
	for i, spec := range specs {
		if spec.UID.Fragment(1) > specs[highest].UID.Fragment(1) {
			highest = i
		}
	}
	known := r.Nodes()[highest]
	id := known.Client.ShortID()
	if err := r.Unplug(highest); err != nil {
		t.Fatal(err)
	}
	r.Run(100)

	stranger := r.AddPanel(PanelSpec{UID: core.UID{1, 1, 1}, Type: 5})
	if err := r.Plug(highest); err != nil {
		t.Fatal(err)
	}
	settle(t, r, 10000)

	if got := known.Client.ShortID(); got != id || known.Client.Mode() != core.ModeRun {
		t.Errorf("known panel: id %d mode %v, want id %d in RUN", got, known.Client.Mode(), id)
	}
	if stranger.Client.Configured() || !stranger.Client.Rejected() {
		t.Errorf("unknown panel: id %d rejected %v", stranger.Client.ShortID(), stranger.Client.Rejected())
	}
	if s := r.Controller().Arbiter().Stats(); s.AllocFailures == 0 {
		t.Error("expected an allocation failure")
	}
	assertRows(t, r, before)
}

func TestRackLostAck(t *testing.T) {
	r := NewRack(Config{Brain: brain.DefaultConfig(), Panels: randomPanels(3, 29)}, quietLogger())
	var dropped int
	r.ctrlEP.SetDropFilter(func(f canbus.Frame) bool {
		if core.Classify(f) == core.KindAck && dropped == 0 {
			dropped++
			return true
		}
		return false
	})
	r.Start()
	settle(t, r, 10000)

	if dropped != 1 {
		t.Fatalf("dropped %d ACKs", dropped)
	}
	if s := r.Controller().Arbiter().Stats(); s.SessionTimeouts == 0 {
		t.Error("the unacknowledged grant should have expired")
	}
	if got := r.Controller().Table().Count(); got != 3 {
		t.Errorf("table has %d rows, want 3", got)
	}
	assertRegistered(t, r)
}
