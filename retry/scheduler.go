package retry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/envelope"
)

// Default retry schedule: one minute apart for the first eight runs, then
// every ten minutes.
const (
	DefaultInitialInterval = time.Minute
	DefaultSteadyInterval  = 10 * time.Minute
	DefaultInitialAttempts = 8
)

// AddressSource lists the local addresses.
type AddressSource interface {
	Addresses() []string
}

// SchedulerConfig controls the retry timer. Zero fields select the defaults.
type SchedulerConfig struct {
	InitialInterval time.Duration
	SteadyInterval  time.Duration
	InitialAttempts int
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = DefaultInitialInterval
	}
	if c.SteadyInterval <= 0 {
		c.SteadyInterval = DefaultSteadyInterval
	}
	if c.InitialAttempts < 0 {
		c.InitialAttempts = 0
	} else if c.InitialAttempts == 0 {
		c.InitialAttempts = DefaultInitialAttempts
	}
	return c
}

// Scheduler runs the engine on a self-rearming timer. Each run announces
// every local address with a liveness probe, which prompts peers to resend
// what they hold for it, and then resends what this node holds for its own
// addresses.
type Scheduler struct {
	mutex    sync.Mutex
	engine   *Engine
	local    AddressSource
	tp       crypto.TimeProvider
	config   SchedulerConfig
	running  bool
	stopChan chan struct{}
	done     chan struct{}
	runs     int
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(engine *Engine, local AddressSource, config SchedulerConfig) *Scheduler {
	return &Scheduler{
		engine: engine,
		local:  local,
		tp:     engine.tp,
		config: config.withDefaults(),
	}
}

// Start arms the timer. The scheduler stops when ctx is cancelled or Stop is
// called. Starting a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})

	go s.loop(ctx, s.stopChan, s.done)

	logrus.WithFields(logrus.Fields{
		"function":         "Start",
		"initial_interval": s.config.InitialInterval.String(),
		"steady_interval":  s.config.SteadyInterval.String(),
		"initial_attempts": s.config.InitialAttempts,
	}).Debug("Retry scheduler started")
}

// Stop disarms the timer and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	done := s.done
	s.mutex.Unlock()

	<-done
}

// Running reports whether the timer is armed.
func (s *Scheduler) Running() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running
}

// Runs returns how many runs have completed.
func (s *Scheduler) Runs() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.runs
}

// NextInterval returns the delay before the next timed run.
func (s *Scheduler) NextInterval() time.Duration {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.intervalLocked()
}

func (s *Scheduler) intervalLocked() time.Duration {
	if s.runs < s.config.InitialAttempts {
		return s.config.InitialInterval
	}
	return s.config.SteadyInterval
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(s.NextInterval())
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.RunNow()
			timer.Reset(s.NextInterval())
		case <-stop:
			return
		case <-ctx.Done():
			s.mutex.Lock()
			if s.running && s.stopChan == stop {
				s.running = false
				close(s.stopChan)
			}
			s.mutex.Unlock()
			return
		}
	}
}

// RunNow performs one run immediately: a probe from every local address,
// then a resend of entries addressed to local addresses.
func (s *Scheduler) RunNow() (Result, error) {
	addresses := s.local.Addresses()
	now := s.tp.Now()

	probes := 0
	for _, address := range addresses {
		if err := s.engine.transmitter.Transmit(envelope.NewProbe(address, now)); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "RunNow",
				"from":     crypto.ShortAddress(address),
				"error":    err.Error(),
			}).Warn("Failed to send liveness probe")
			continue
		}
		probes++
	}

	result, err := s.engine.Sweep(addresses)

	s.mutex.Lock()
	s.runs++
	s.mutex.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "RunNow",
		"probes":   probes,
		"expired":  result.Expired,
		"resent":   result.Resent,
	}).Debug("Retry run finished")
	return result, err
}
