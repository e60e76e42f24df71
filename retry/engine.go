// Package retry re-sends undelivered messages.
//
// There are no delivery acknowledgements in xchat. Every sent message stays in
// the undelivered registry until its TTL runs out, and the Engine
// retransmits it whenever its recipient shows signs of life: an incoming
// message or probe from that address, or a local send to it. The Scheduler
// additionally runs the engine on a timer so entries are retried and expired
// even when nothing else happens.
package retry

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/xchat/chatdb"
	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/envelope"
	"github.com/opd-ai/xchat/transport"
)

// DefaultCooldown is the minimum gap between two resends to the same target.
const DefaultCooldown = 5 * time.Second

// Result summarizes one pass over the registry.
type Result struct {
	Expired int // entries dropped for age
	Resent  int // entries transmitted
	Failed  int // entries whose transmission failed
}

// Engine retransmits registry entries.
type Engine struct {
	registry    *chatdb.Registry
	transmitter transport.Transmitter
	tp          crypto.TimeProvider

	mu         sync.Mutex
	cooldown   time.Duration
	lastResend map[string]time.Time
}

// NewEngine creates an engine over registry. A nil tp selects the wall clock.
func NewEngine(registry *chatdb.Registry, transmitter transport.Transmitter, tp crypto.TimeProvider) *Engine {
	return &Engine{
		registry:    registry,
		transmitter: transmitter,
		tp:          crypto.OrDefault(tp),
		cooldown:    DefaultCooldown,
		lastResend:  make(map[string]time.Time),
	}
}

// SetCooldown sets the minimum gap between resends to one target. Nodes
// holding messages for each other trigger each other's resends, and the gap
// bounds that exchange. Zero disables the limit.
func (e *Engine) SetCooldown(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldown = d
}

// Transmitter returns the transmitter the engine sends on.
func (e *Engine) Transmitter() transport.Transmitter {
	return e.transmitter
}

// ResendUndelivered drops expired registry entries and retransmits every live
// entry addressed to one of targets. It fails only when the registry cannot
// be read or written; transmission errors are logged.
func (e *Engine) ResendUndelivered(targets []string) error {
	_, err := e.Sweep(targets)
	return err
}

// Sweep is ResendUndelivered with a report of what it did.
//
// Expired entries are removed and the removal is persisted in the same
// critical section. Live entries are copied, and only the copies get a fresh
// Timestamp before transmission: the stored entries keep their original send
// time, so each message is retried for at most one TTL.
func (e *Engine) Sweep(targets []string) (Result, error) {
	logger := crypto.NewLogger("retry", "Sweep").WithField("targets", len(targets))

	now := e.tp.Now()
	wanted := e.eligible(targets, now)

	var (
		result  Result
		pending []*envelope.Message
	)
	err := e.registry.Update(func(entries chatdb.UndeliveredMap) bool {
		for hash, msg := range entries {
			if e.registry.IsExpired(&msg) {
				delete(entries, hash)
				result.Expired++
				continue
			}
			if _, ok := wanted[msg.To]; ok {
				pending = append(pending, msg.Clone())
			}
		}
		return result.Expired > 0
	})
	if err != nil {
		logger.WithError(err, "storage", "registry_update").Error("Failed to sweep undelivered registry")
		return result, err
	}

	// Oldest first.
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Timestamp != pending[j].Timestamp {
			return pending[i].Timestamp < pending[j].Timestamp
		}
		return pending[i].Date < pending[j].Date
	})

	resentTo := make(map[string]struct{})
	for _, msg := range pending {
		msg.Refresh(now)
		if err := e.transmitter.Transmit(msg); err != nil {
			result.Failed++
			logrus.WithFields(logrus.Fields{
				"function": "Sweep",
				"to":       crypto.ShortAddress(msg.To),
				"hash":     msg.StaticHash().String()[:16],
				"error":    err.Error(),
			}).Warn("Resend failed")
			continue
		}
		result.Resent++
		resentTo[msg.To] = struct{}{}
	}
	e.markResent(resentTo, now)

	if result.Expired > 0 || result.Resent > 0 || result.Failed > 0 {
		logger.WithFields(logrus.Fields{
			"expired": result.Expired,
			"resent":  result.Resent,
			"failed":  result.Failed,
		}).Debug("Undelivered sweep finished")
	}
	return result, nil
}

// eligible returns the targets that are not cooling down.
func (e *Engine) eligible(targets []string, now time.Time) map[string]struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()

	wanted := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if last, ok := e.lastResend[t]; ok && e.cooldown > 0 && now.Sub(last) < e.cooldown {
			continue
		}
		wanted[t] = struct{}{}
	}
	return wanted
}

func (e *Engine) markResent(targets map[string]struct{}, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for t := range targets {
		e.lastResend[t] = now
	}
	for t, last := range e.lastResend {
		if now.Sub(last) >= e.cooldown {
			delete(e.lastResend, t)
		}
	}
}
