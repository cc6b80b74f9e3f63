// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package dispatcher turns the stream of platform lifecycle events
// into sequential reconciliation passes. Events never run
// concurrently; a burst of events simply yields a burst of passes,
// each of which is cheap when nothing changed.
package dispatcher

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/worker/v4/catacomb"

	"github.com/canonical/sdcore-amf-k8s-operator/internal/reconciler"
)

var logger = loggo.GetLogger("sdcore-amf.dispatcher")

// ErrRemoved is reported by the worker after it has torn the unit
// down in response to a removal event.
const ErrRemoved = errors.ConstError("unit removed")

// Engine runs reconciliation passes.
type Engine interface {
	Reconcile(ctx context.Context) (reconciler.Outcome, error)
	Teardown(ctx context.Context) error
}

// Config defines the operation of the dispatch Worker.
type Config struct {
	Engine Engine
	Events <-chan Event
	Clock  clock.Clock

	// TickInterval bounds how stale the reported status can get when
	// no events arrive.
	TickInterval time.Duration
}

// Validate returns an error if config cannot drive the Worker.
func (config Config) Validate() error {
	if config.Engine == nil {
		return errors.NotValidf("nil Engine")
	}
	if config.Events == nil {
		return errors.NotValidf("nil Events")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.TickInterval <= 0 {
		return errors.NotValidf("non-positive TickInterval")
	}
	return nil
}

// Worker dispatches lifecycle events to the reconciliation engine.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config
}

// NewWorker returns a dispatch Worker backed by config, or an error.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{config: config}
	err := catacomb.Invoke(catacomb.Plan{
		Site: &w.catacomb,
		Work: w.loop,
	})
	return w, errors.Trace(err)
}

// Kill is defined on worker.Worker.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

func (w *Worker) loop() error {
	ctx, cancel := w.scopedContext()
	defer cancel()

	timer := w.config.Clock.NewTimer(w.config.TickInterval)
	defer timer.Stop()

	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()
		case event, ok := <-w.config.Events:
			if !ok {
				return errors.New("event stream closed")
			}
			if event.Kind == KindRemove {
				logger.Infof("unit removal requested, tearing down")
				if err := w.config.Engine.Teardown(ctx); err != nil {
					return errors.Trace(err)
				}
				return ErrRemoved
			}
			w.dispatch(ctx, event)
		case <-timer.Chan():
			w.dispatch(ctx, Event{Kind: KindTick})
		}
		timer.Reset(w.config.TickInterval)
	}
}

// dispatch runs one pass. Pass failures are logged, not fatal: the
// periodic tick retries them, and killing the worker for a transient
// workload hiccup would lose the event stream.
func (w *Worker) dispatch(ctx context.Context, event Event) {
	if event.Relation != "" {
		logger.Debugf("dispatching %s (%s)", event.Kind, event.Relation)
	} else {
		logger.Debugf("dispatching %s", event.Kind)
	}
	outcome, err := w.config.Engine.Reconcile(ctx)
	if err != nil {
		logger.Errorf("reconciliation pass failed: %v", err)
		return
	}
	logger.Debugf("pass complete, unit is %s", outcome.Status.Status)
}

func (w *Worker) scopedContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(w.catacomb.Context(context.Background()))
}
