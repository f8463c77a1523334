package engine

import (
	"log"
	"sync"
	"time"

	"github.com/irrigation-engine/edge-controller/internal/plant"
)

// scheduler walks the plant registry once a minute and starts irrigation
// for any (plant, day, hh:mm) trigger that is due. It is a single
// internal clock tick, not a library and not one OS thread per trigger
// (§9's Design Notes mandate this explicitly).
type scheduler struct {
	engine   *Engine
	interval time.Duration

	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
	// lastFiredMinute records, per plant, when a trigger last fired, so a
	// plant is not fired twice within one interval if a slow tick lands
	// in the same minute again.
	lastFiredMinute map[int]time.Time
}

func newScheduler(e *Engine) *scheduler {
	return &scheduler{
		engine:          e,
		interval:        time.Minute,
		lastFiredMinute: make(map[int]time.Time),
	}
}

func (s *scheduler) start() {
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go s.loop()
}

func (s *scheduler) stop() {
	if s.stopChan == nil {
		return
	}
	close(s.stopChan)
	s.wg.Wait()
}

func (s *scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

// tick walks every plant's schedule; triggers whose plant no longer
// exists are implicitly pruned because the walk is over the live
// registry, not a standalone trigger table.
func (s *scheduler) tick(now time.Time) {
	for _, p := range s.engine.allPlants() {
		sched := p.Schedule()
		if sched == nil {
			continue
		}
		for _, trig := range sched.Triggers {
			if !trig.Due(now) {
				continue
			}
			s.mu.Lock()
			last, fired := s.lastFiredMinute[p.ID]
			alreadyFired := fired && now.Sub(last) < s.interval
			if !alreadyFired {
				s.lastFiredMinute[p.ID] = now
			}
			s.mu.Unlock()
			if alreadyFired {
				continue
			}
			s.fire(p)
		}
	}
}

// fire submits a scheduled start-irrigation to the task registry exactly
// as if it had arrived over the command surface. If a user command
// already has the slot, the scheduled start is rejected (busy) and
// logged, never queued (§5 ordering guarantees).
func (s *scheduler) fire(p *plant.Plant) {
	if err := s.engine.runSmartIrrigation(p.ID, ModeScheduled); err != nil {
		log.Printf("scheduler: scheduled irrigation for plant %d rejected: %v", p.ID, err)
	}
}
