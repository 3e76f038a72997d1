package brain

import (
	"log/slog"
	"math/rand/v2"

	"panelbus/canbus"
	"panelbus/core"
)

// Detection timing defaults, milliseconds
const (
	DefaultQuiescenceMs     = 500
	DefaultSessionTimeoutMs = 300
)

// refusalHoldoffMs is the gap between a refusal and the StartDetect after
// it. StartDetect outranks the refusal on the bus.
const refusalHoldoffMs = 2

// ArbiterConfig tunes detection timing
type ArbiterConfig struct {
	// QuiescenceMs without a DETECT_1 before RUN is broadcast
	QuiescenceMs uint32

	// SessionTimeoutMs without progress before a session is abandoned
	SessionTimeoutMs uint32
}

// DefaultArbiterConfig returns the standard timing
func DefaultArbiterConfig() ArbiterConfig {
	return ArbiterConfig{
		QuiescenceMs:     DefaultQuiescenceMs,
		SessionTimeoutMs: DefaultSessionTimeoutMs,
	}
}

// Session is the one detection exchange the arbiter is serving
type Session struct {
	Stage    int      // last stage echoed (1..4)
	UID      core.UID // fragments received so far
	Granted  uint8    // short id offered at stage 4
	Started  uint32
	LastSeen uint32
}

// ArbiterStats counts arbitration outcomes
type ArbiterStats struct {
	Sessions        uint32
	Registered      uint32
	Busy            uint32 // DETECT_1 from another UID while a session was live
	Ignored         uint32 // out-of-sequence DETECT_n or ACK
	AllocFailures   uint32
	SessionTimeouts uint32
	TxFailures      uint32
}

// Arbiter runs the controller half of short id detection. It serves one
// UID at a time: the first DETECT_1 processed latches the session and
// competing panels fall back until the next StartDetect.
//
// A re-announce cycle (boot, host RESET, a lost ACK) asks configured
// panels to register again. Until RUN is broadcast every follow-up
// StartDetect carries the cycle number, so panels that lost a round
// return while those that already announced stay out.
type Arbiter struct {
	bus   canbus.Bus
	table *PanelTable
	cfg   ArbiterConfig
	log   *slog.Logger

	session    *Session
	lastDetect uint32
	runSent    bool
	completed  bool

	cycle        uint8
	reannouncing bool

	// StartDetect owed after a refusal, due refusalHoldoffMs after refusedAt
	followUp  bool
	refusedAt uint32

	onRegistered func(core.PanelIdentity)

	events core.EventRing
	stats  ArbiterStats
}

// NewArbiter creates an arbiter transmitting on bus and allocating from
// table
func NewArbiter(bus canbus.Bus, table *PanelTable, cfg ArbiterConfig, logger *slog.Logger) *Arbiter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QuiescenceMs == 0 {
		cfg.QuiescenceMs = DefaultQuiescenceMs
	}
	if cfg.SessionTimeoutMs == 0 {
		cfg.SessionTimeoutMs = DefaultSessionTimeoutMs
	}
	return &Arbiter{
		bus:   bus,
		table: table,
		cfg:   cfg,
		log:   logger.With("component", "arbiter"),
		// Start away from the cycle panels saw before a reboot
		cycle: uint8(rand.IntN(255)),
	}
}

// SetRegisteredHandler sets a callback invoked after a panel's row is
// written
func (a *Arbiter) SetRegisteredHandler(fn func(core.PanelIdentity)) {
	a.onRegistered = fn
}

// Restart abandons any session and broadcasts StartDetect. With
// reannounce set, configured panels take part as well.
func (a *Arbiter) Restart(now uint32, reannounce bool) bool {
	a.session = nil
	a.lastDetect = now
	a.runSent = false
	a.followUp = false

	if reannounce {
		a.beginCycle()
	} else {
		a.reannouncing = false
	}
	a.log.Info("detection restart", "reannounce", reannounce, "cycle", a.cycle)
	return a.transmit(a.startDetect(), now)
}

func (a *Arbiter) beginCycle() {
	a.cycle++
	if a.cycle == 0 {
		a.cycle = 1
	}
	a.reannouncing = true
}

// startDetect returns the StartDetect for the current state: a
// re-announce while a cycle is open, a plain one otherwise
func (a *Arbiter) startDetect() canbus.Frame {
	if a.reannouncing {
		return core.ReannounceFrame(a.cycle)
	}
	return core.BroadcastFrame(core.BroadcastStartDetect, 0)
}

// Cycle returns the current re-announce cycle and whether it is open
func (a *Arbiter) Cycle() (uint8, bool) {
	return a.cycle, a.reannouncing
}

// HandleFrame processes a detection frame. It reports whether the frame
// belonged to the detection protocol.
func (a *Arbiter) HandleFrame(f canbus.Frame, now uint32) bool {
	switch core.Classify(f) {
	case core.KindDetectRequest:
		stage, fragment, err := core.ParseDetectRequest(f)
		if err != nil {
			return false
		}
		a.expire(now)
		if stage == 1 {
			a.handleDetect1(fragment, now)
		} else {
			a.handleDetectN(stage, fragment, now)
		}
		return true

	case core.KindAck:
		id, panelType, version, err := core.ParseAck(f)
		if err != nil {
			return false
		}
		a.expire(now)
		a.handleAck(id, panelType, version, now)
		return true
	}
	return false
}

func (a *Arbiter) handleDetect1(fragment uint32, now uint32) {
	a.lastDetect = now
	a.runSent = false

	if s := a.session; s != nil && s.UID.Fragment(1) != fragment {
		a.stats.Busy++
		a.events.Record(core.EvtBusy, 0, now, fragment, s.UID.Fragment(1))
		a.log.Debug("detect busy", "fragment", fragment, "serving", s.UID.Fragment(1))
		return
	}

	// New session, or the latched panel starting over after a timeout
	echo, err := core.DetectEcho(1, fragment)
	if err != nil || !a.transmit(echo, now) {
		return
	}

	var uid core.UID
	uid.SetFragment(1, fragment)
	a.session = &Session{Stage: 1, UID: uid, Started: now, LastSeen: now}
	a.stats.Sessions++
	a.events.Record(core.EvtDetectStart, 0, now, fragment, 0)
	a.log.Debug("detect session", "fragment", fragment)
}

func (a *Arbiter) handleDetectN(stage int, fragment uint32, now uint32) {
	s := a.session
	if s == nil || s.Stage != stage-1 {
		a.stats.Ignored++
		return
	}

	uid := s.UID
	uid.SetFragment(stage, fragment)

	if stage < core.DetectStages {
		echo, err := core.DetectEcho(stage, fragment)
		if err != nil || !a.transmit(echo, now) {
			return
		}
		s.UID = uid
		s.Stage = stage
		s.LastSeen = now
		a.events.Record(core.EvtDetectStage, 0, now, uint32(stage), fragment)
		return
	}

	id, err := a.table.Allocate(uid)
	if err != nil {
		a.stats.AllocFailures++
		a.events.Record(core.EvtAllocFail, 0, now, uid[0], uid[2])
		a.log.Error("short id allocation failed", "uid", uid.String(), "error", err)
		a.session = nil

		// Refuse the UID; Poll lets the panels that lost to it compete
		a.transmit(core.DetectReject(fragment), now)
		a.followUp = true
		a.refusedAt = now
		return
	}

	grant, err := core.DetectGrant(fragment, id)
	if err != nil || !a.transmit(grant, now) {
		return
	}
	s.UID = uid
	s.Stage = stage
	s.Granted = id
	s.LastSeen = now
	a.events.Record(core.EvtGrant, id, now, uid[2], 0)
	a.log.Debug("short id offered", "uid", uid.String(), "id", id)
}

func (a *Arbiter) handleAck(id uint8, panelType, version uint32, now uint32) {
	s := a.session
	if s == nil || s.Stage != core.DetectStages || s.Granted != id {
		a.stats.Ignored++
		return
	}

	identity := core.PanelIdentity{
		UID:      s.UID,
		Type:     panelType,
		Version:  version,
		ShortID:  id,
		LastSeen: now,
	}
	a.session = nil
	if err := a.table.Register(identity); err != nil {
		a.log.Error("panel register failed", "uid", s.UID.String(), "id", id, "error", err)
		a.beginCycle()
		a.transmit(a.startDetect(), now)
		return
	}

	a.completed = true
	a.stats.Registered++
	a.events.Record(core.EvtRegistered, id, now, panelType, version)
	a.log.Info("panel registered", "id", id, "uid", identity.UID.String(), "type", panelType, "version", version)

	if a.onRegistered != nil {
		a.onRegistered(identity)
	}

	// Panels that lost this round wait for the next trigger
	a.transmit(a.startDetect(), now)
}

// Poll runs the arbiter timers: session expiry and the RUN broadcast
// after detection has been quiet.
func (a *Arbiter) Poll(now uint32) {
	a.expire(now)

	if a.followUp {
		switch {
		case a.session != nil:
			// its end sends the follow-up
			a.followUp = false
		case core.Elapsed(now, a.refusedAt) >= refusalHoldoffMs:
			if a.transmit(a.startDetect(), now) {
				a.followUp = false
			}
			return
		}
	}

	if a.session != nil || a.runSent || a.followUp {
		return
	}
	if core.Elapsed(now, a.lastDetect) < a.cfg.QuiescenceMs {
		return
	}
	if a.transmit(core.BroadcastFrame(core.BroadcastRun, 0), now) {
		a.runSent = true
		a.reannouncing = false
		a.events.Record(core.EvtRunBroadcast, 0, now, uint32(a.table.Count()), 0)
		a.log.Info("detection quiet, panels to RUN", "panels", a.table.Count())
	}
}

func (a *Arbiter) expire(now uint32) {
	s := a.session
	if s == nil || core.Elapsed(now, s.LastSeen) < a.cfg.SessionTimeoutMs {
		return
	}
	a.session = nil
	a.stats.SessionTimeouts++
	a.events.Record(core.EvtSessionExpire, s.Granted, now, uint32(s.Stage), s.UID.Fragment(1))
	a.log.Warn("detect session expired", "stage", s.Stage, "fragment", s.UID.Fragment(1))

	// A granted panel whose ACK was lost believes it holds the id. Only a
	// re-announce brings it back.
	if s.Granted != 0 {
		a.beginCycle()
	}
	// Let the panels that backed off compete again
	a.transmit(a.startDetect(), now)
}

// transmit sends f and reports whether it went out. Failures are counted
// and leave protocol state untouched.
func (a *Arbiter) transmit(f canbus.Frame, now uint32) bool {
	if err := a.bus.Send(f); err != nil {
		a.stats.TxFailures++
		a.events.Record(core.EvtTxFail, 0, now, f.ID, 0)
		a.log.Warn("transmit failed", "frame", f.String(), "error", err)
		return false
	}
	return true
}

// Mode derives the controller's run mode from the detection state
func (a *Arbiter) Mode() core.RunMode {
	switch {
	case a.session != nil:
		return core.PendingMode(a.session.Stage)
	case a.runSent:
		return core.ModeRun
	case a.completed:
		return core.ModeReady
	}
	return core.ModeInit
}

// Session returns a copy of the live session
func (a *Arbiter) Session() (Session, bool) {
	if a.session == nil {
		return Session{}, false
	}
	return *a.session, true
}

// Stats returns the arbitration counters
func (a *Arbiter) Stats() ArbiterStats {
	return a.stats
}

// Events returns the arbitration event ring
func (a *Arbiter) Events() *core.EventRing {
	return &a.events
}
