// Copyright 2025 The Crystalline Lattice Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package scheduler implements the sphere tree from spec §4.H: one root
// control thread plus N worker "spheres" pulling batches off a shared
// FIFO, running forward/backward in parallel with zero cross-sphere
// writes, and synchronizing at an epoch barrier before the root applies
// one optimizer step. Grounded on the persistent worker pool pattern in
// hwy/contrib/workerpool/workerpool.go: sphere state (counters and
// scratch arenas) is created once in New and reused across epochs, and
// each epoch starts one worker goroutine per sphere rather than one per
// batch; the goroutines themselves exit at the end of every epoch. Unlike
// a generic ParallelFor this loop's termination is driven by a batch
// iterator rather than a fixed index range, so the channel-plus-close
// pattern below replaces the pool's chunk dispatch.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/crystalline-lattice/engine/backward"
	"github.com/crystalline-lattice/engine/databatch"
	"github.com/crystalline-lattice/engine/forward"
	"github.com/crystalline-lattice/engine/gradaccum"
	"github.com/crystalline-lattice/engine/lattice"
	"github.com/crystalline-lattice/engine/loss"
	"github.com/crystalline-lattice/engine/metrics"
	"github.com/crystalline-lattice/engine/model"
	"github.com/crystalline-lattice/engine/optimizer"
	"github.com/crystalline-lattice/engine/xerr"
)

// Config holds the scheduler's topology and per-epoch safety limits.
type Config struct {
	// NumSpheres is N from spec §4.H.1. Zero means auto: max(1,
	// num_cpu_cores-1).
	NumSpheres int
	// MaxBatchesPerEpoch caps dispatch as defense in depth against a
	// misbehaving iterator that never returns false (spec §4.H.2).
	MaxBatchesPerEpoch int

	Loss      loss.Config
	Optimizer optimizer.Config
}

// DefaultConfig returns an auto-sized topology with the loss/optimizer
// defaults and a generous safety cap.
func DefaultConfig() Config {
	return Config{
		NumSpheres:         0,
		MaxBatchesPerEpoch: 1_000_000,
		Loss:               loss.DefaultConfig(),
		Optimizer:          optimizer.DefaultConfig(),
	}
}

// Validate checks the scheduler's own knobs and its nested configs.
func (c Config) Validate() error {
	if c.NumSpheres < 0 {
		return fmt.Errorf("scheduler.Config: num_spheres must not be negative: %w", xerr.InvalidConfig)
	}
	if c.MaxBatchesPerEpoch <= 0 {
		return fmt.Errorf("scheduler.Config: max_batches_per_epoch must be positive: %w", xerr.InvalidConfig)
	}
	if err := c.Loss.Validate(); err != nil {
		return err
	}
	return c.Optimizer.Validate()
}

func resolveNumSpheres(n int) int {
	if n > 0 {
		return n
	}
	if cores := runtime.NumCPU() - 1; cores > 0 {
		return cores
	}
	return 1
}

// EpochReport summarizes one call to StepEpoch.
type EpochReport struct {
	Epoch            int
	BatchesProcessed int
	Loss             float64
	GradNorm         float64
	OptimizerApplied bool
	Aborted          bool
	Cancelled        bool
}

// Scheduler owns the model, the lattice table, the gradient accumulator,
// the optimizer, and the N sphere contexts, and drives the epoch state
// machine of spec §4.H.2.
type Scheduler struct {
	model  *model.Model
	table  *lattice.Table
	layout *gradaccum.Layout
	acc    *gradaccum.Accumulator
	opt    *optimizer.Optimizer
	cfg    Config
	log    *logrus.Entry

	spheres []*sphereContext
	epoch   int

	cancelled atomic.Bool
}

// New builds a Scheduler over m and table. m and table are shared
// read-only with every sphere for the scheduler's lifetime (spec §3.2).
func New(m *model.Model, table *lattice.Table, cfg Config, log *logrus.Entry) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	numSpheres := resolveNumSpheres(cfg.NumSpheres)
	layout := gradaccum.NewLayout(m)
	acc, err := gradaccum.New(layout.TotalParams(), numSpheres)
	if err != nil {
		return nil, err
	}
	opt, err := optimizer.New(cfg.Optimizer, layout.TotalParams())
	if err != nil {
		return nil, err
	}

	spheres := make([]*sphereContext, numSpheres)
	for i := range spheres {
		spheres[i] = newSphereContext(i)
	}

	return &Scheduler{
		model:   m,
		table:   table,
		layout:  layout,
		acc:     acc,
		opt:     opt,
		cfg:     cfg,
		log:     log.WithField("component", "scheduler"),
		spheres: spheres,
	}, nil
}

// NumSpheres returns the resolved sphere count (never 0, per spec
// §4.H.1's "works for any N >= 1").
func (s *Scheduler) NumSpheres() int { return len(s.spheres) }

// Close releases the scheduler's gradient-reduction worker pool. Call
// once the Scheduler will no longer run any further epochs.
func (s *Scheduler) Close() { s.acc.Close() }

// Cancel requests cooperative shutdown of the current or next epoch
// (spec §4.H.4). It is safe to call from any goroutine, at any time.
func (s *Scheduler) Cancel() { s.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (s *Scheduler) Cancelled() bool { return s.cancelled.Load() }

// StepEpoch drives exactly one pass of the [Idle]->[EpochBegin]->dispatch
// loop->[AwaitBarrier]->[Reduce+Optimize]->[EpochEnd] state machine (spec
// §4.H.2) over every batch iter yields, then returns. It does not reset
// or advance iter across calls — the caller (training.TrainingHandle)
// owns the iterator's lifetime across epochs.
func (s *Scheduler) StepEpoch(ctx context.Context, iter *databatch.Iterator) (EpochReport, error) {
	// EpochBegin.
	s.acc.ZeroAll()
	for _, sc := range s.spheres {
		sc.reset()
	}

	ch := make(chan databatch.Batch, len(s.spheres)*2)
	var wg sync.WaitGroup
	wg.Add(len(s.spheres))
	for _, sc := range s.spheres {
		go s.worker(sc, ch, &wg)
	}

	// Dispatch loop.
	dispatched := 0
	for {
		if s.cancelled.Load() {
			break
		}
		select {
		case <-ctx.Done():
			s.cancelled.Store(true)
		default:
		}
		if s.cancelled.Load() {
			break
		}
		batch, ok := iter.Next()
		if !ok {
			break
		}
		if dispatched >= s.cfg.MaxBatchesPerEpoch {
			s.log.WithField("max_batches_per_epoch", s.cfg.MaxBatchesPerEpoch).
				Warn("safety cap reached before iterator exhaustion; terminating epoch early")
			break
		}
		dispatched++
		ch <- batch
	}
	close(ch)

	// AwaitBarrier.
	wg.Wait()

	report := EpochReport{Epoch: s.epoch}
	for _, sc := range s.spheres {
		report.BatchesProcessed += sc.batchesProcessed
		if sc.poisoned {
			report.Aborted = true
		}
	}

	if report.Aborted {
		s.log.Error("epoch aborted: a sphere poisoned itself")
		return report, fmt.Errorf("scheduler.StepEpoch: %w", xerr.TrainingAborted)
	}
	if s.cancelled.Load() {
		report.Cancelled = true
		s.log.Info("epoch cancelled before optimizer step")
		return report, fmt.Errorf("scheduler.StepEpoch: %w", xerr.Cancelled)
	}

	// Reduce+Optimize.
	s.acc.ReduceParallel()
	report.GradNorm = math.Sqrt(s.acc.GlobalNormSquared())
	report.Loss = s.meanLoss()

	applied, err := s.opt.Apply(ctx, s.model, s.layout, s.acc)
	report.OptimizerApplied = applied
	s.epoch++ // EpochEnd, regardless of whether this step's update was skipped

	if err != nil {
		s.log.WithError(err).Warn("optimizer step skipped for this epoch")
		return report, fmt.Errorf("scheduler.StepEpoch: %w", err)
	}
	s.log.WithField("epoch", s.epoch).WithField("loss", report.Loss).Info("epoch complete")
	return report, nil
}

func (s *Scheduler) meanLoss() float64 {
	var total float64
	var n int
	for _, sc := range s.spheres {
		total += sc.accumulatedLoss
		n += sc.batchesProcessed
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// SnapshotMetrics publishes the current sphere rollups (spec §4.J). Safe
// to call only after StepEpoch has returned — during an epoch, sphere
// counters are mid-update by their owning goroutine.
func (s *Scheduler) SnapshotMetrics(step int) metrics.Snapshot {
	per := make([]metrics.SphereStats, len(s.spheres))
	for i, sc := range s.spheres {
		per[i] = metrics.SphereStats{
			SphereID:         sc.id,
			SymGroup:         sc.symGroup,
			BatchesProcessed: sc.batchesProcessed,
			SkippedBatches:   sc.skippedBatches,
			AccumulatedLoss:  sc.accumulatedLoss,
			Poisoned:         sc.poisoned,
		}
	}
	return metrics.Snapshot{
		Epoch:     s.epoch,
		Step:      step,
		Loss:      metrics.MeanLoss(per),
		PerSphere: per,
		GradNorm:  math.Sqrt(s.acc.GlobalNormSquared()),
	}
}

// worker is the per-sphere loop from spec §4.H.3: pull a batch, run
// forward+loss+backward into this sphere's own gradient buffer, update
// local counters, repeat until the channel closes, then join the
// barrier.
func (s *Scheduler) worker(sc *sphereContext, ch <-chan databatch.Batch, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		if r := recover(); r != nil {
			sc.poisoned = true
			s.log.WithField("sphere_id", sc.id).Errorf("sphere poisoned: %v", r)
			for range ch {
				// Drain the remainder of the channel so the root's send
				// loop (and any sibling still sending) never blocks
				// forever on a full buffer (spec §4.H.4).
			}
		}
	}()

	for batch := range ch {
		if s.cancelled.Load() {
			continue // cooperative cancel: drain without processing
		}
		s.processBatch(sc, batch)
	}
}

func (s *Scheduler) processBatch(sc *sphereContext, batch databatch.Batch) {
	if sc.cache == nil || sc.cacheB != batch.B || sc.cacheS != batch.S {
		sc.cache = forward.NewCache(s.model.Shapes, batch.B, batch.S)
		sc.scratch = backward.NewScratch(s.model.Shapes, batch.B, batch.S)
		sc.cacheB, sc.cacheS = batch.B, batch.S
	}

	if err := forward.Run(s.model, batch.InputIDs, batch.Mask, sc.cache); err != nil {
		sc.skippedBatches++
		s.log.WithField("sphere_id", sc.id).WithError(err).Warn("forward pass failed; skipping batch")
		return
	}

	vocab := s.model.Shapes.VocabSize
	dLogits := make([]float32, batch.B*batch.S*vocab)
	rowLoss, err := loss.Compute(sc.cache.Logits, batch.TargetIDs, batch.Mask, s.table, s.cfg.Loss, dLogits)
	if err != nil || math.IsNaN(rowLoss) || math.IsInf(rowLoss, 0) {
		sc.skippedBatches++
		s.log.WithField("sphere_id", sc.id).WithError(err).Warn("non-finite loss; skipping batch")
		return
	}

	grad := s.acc.Sphere(sc.id)
	if err := backward.Run(s.model, sc.cache, sc.scratch, batch.InputIDs, dLogits, grad, s.layout); err != nil {
		sc.skippedBatches++
		s.log.WithField("sphere_id", sc.id).WithError(err).Warn("backward pass failed; skipping batch")
		return
	}

	sc.batchesProcessed++
	sc.accumulatedLoss += rowLoss
}
