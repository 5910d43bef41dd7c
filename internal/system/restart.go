package system

import (
	"sync"
	"time"

	"github.com/preesu/boardd/internal/loop"
	"github.com/sirupsen/logrus"
)

// ExitRestart is the process exit status after a requested restart. The
// service supervisor is expected to start the process again.
const ExitRestart = 3

// Scheduler arms one-shot timers.
type Scheduler interface {
	SetTimer(d time.Duration, fn func()) loop.TimerID
}

// Restarter turns restart requests into a single call of the shutdown hook.
type Restarter struct {
	sched    Scheduler
	shutdown func()
	logger   *logrus.Entry

	mu        sync.Mutex
	scheduled bool
	once      sync.Once
	requested chan struct{}
}

// NewRestarter creates a Restarter that arms its timer on sched and calls
// shutdown when it fires.
func NewRestarter(sched Scheduler, shutdown func(), logger *logrus.Entry) *Restarter {
	return &Restarter{
		sched:     sched,
		shutdown:  shutdown,
		logger:    logger,
		requested: make(chan struct{}),
	}
}

// RestartAfter schedules the restart. Later requests keep the first
// schedule.
func (r *Restarter) RestartAfter(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.scheduled {
		return
	}
	r.scheduled = true
	r.logger.Warnf("Restarting in %s", d)
	r.sched.SetTimer(d, r.fire)
}

func (r *Restarter) fire() {
	r.once.Do(func() {
		r.logger.Warn("Restarting now")
		close(r.requested)
		r.shutdown()
	})
}

// Requested is closed once the restart has fired.
func (r *Restarter) Requested() <-chan struct{} { return r.requested }
