package emission_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/nfse-api/internal/application/emission"
)

func TestScheduler_CorreAlInicioYPeriodicamente(t *testing.T) {
	s := emission.NewScheduler(zerolog.Nop())
	var runs atomic.Int32
	s.Every("contar", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopEsperaPasadaEnCurso(t *testing.T) {
	s := emission.NewScheduler(zerolog.Nop())
	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	s.Every("lenta", time.Hour, func(context.Context) error {
		close(entered)
		<-release
		finished.Store(true)
		return nil
	})
	s.Start(context.Background())
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop volvió antes de terminar la pasada en curso")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop no volvió")
	}
	assert.True(t, finished.Load())
}

func TestScheduler_SinPasadasDespuesDeStop(t *testing.T) {
	s := emission.NewScheduler(zerolog.Nop())
	var runs atomic.Int32
	s.Every("contar", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Start(context.Background())
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop() // idempotente

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestScheduler_ErrorYPanicoNoDetienenLaTarea(t *testing.T) {
	s := emission.NewScheduler(zerolog.Nop())
	var runs atomic.Int32
	s.Every("inestable", 5*time.Millisecond, func(context.Context) error {
		n := runs.Add(1)
		switch n {
		case 1:
			return errors.New("fallo transitorio")
		case 2:
			panic("boom")
		}
		return nil
	})
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 4 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_CancelarContextoTermina(t *testing.T) {
	s := emission.NewScheduler(zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	s.Every("contar", 5*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Start(ctx)
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("el scheduler no terminó al cancelar el contexto")
	}
}

func TestScheduler_EveryDespuesDeStartPanic(t *testing.T) {
	s := emission.NewScheduler(zerolog.Nop())
	s.Start(context.Background())
	defer s.Stop()
	assert.Panics(t, func() {
		s.Every("tarde", time.Second, func(context.Context) error { return nil })
	})
}
