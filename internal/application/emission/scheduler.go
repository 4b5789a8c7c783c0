package emission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job tarea periódica. El error se registra; no detiene el scheduler.
type Job func(ctx context.Context) error

type scheduledJob struct {
	name     string
	interval time.Duration
	run      Job
}

// Scheduler ejecuta tareas a intervalo fijo, una goroutine por tarea (una misma tarea nunca se solapa).
// Stop deja terminar la pasada en curso y deja de programar nuevas.
type Scheduler struct {
	log     zerolog.Logger
	mu      sync.Mutex
	jobs    []scheduledJob
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
}

func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{log: log, stop: make(chan struct{})}
}

// Every registra una tarea. Debe llamarse antes de Start.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic(fmt.Sprintf("scheduler: Every(%q) después de Start", name))
	}
	s.jobs = append(s.jobs, scheduledJob{name: name, interval: interval, run: job})
}

// Start lanza las tareas; cada una corre inmediatamente y luego en cada tick.
// ctx se pasa a las tareas: cancelarlo aborta la pasada en curso, Stop no.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
}

// Stop espera a que terminen las pasadas en curso. Es idempotente.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j scheduledJob) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	s.runOnce(ctx, j)
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// si Stop llegó junto con el tick, no empezar otra pasada.
			select {
			case <-s.stop:
				return
			default:
			}
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j scheduledJob) {
	log := s.log.With().Str("job", j.name).Logger()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("tarea periódica en pánico")
		}
	}()
	started := time.Now()
	if err := j.run(ctx); err != nil {
		log.Error().Err(err).Dur("took", time.Since(started)).Msg("tarea periódica fallida")
		return
	}
	log.Debug().Dur("took", time.Since(started)).Msg("tarea periódica completa")
}
