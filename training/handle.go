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

// Package training wires the batch iterator, the sphere-tree scheduler,
// and the optimizer into the single orchestration type spec §6 describes:
// Handle, built by Train, exposing StepEpoch/SnapshotMetrics/Cancel. It
// owns no CLI, no file I/O, and no tokenizer — those are external
// collaborators, per spec §6.
package training

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/crystalline-lattice/engine/databatch"
	"github.com/crystalline-lattice/engine/lattice"
	"github.com/crystalline-lattice/engine/loss"
	"github.com/crystalline-lattice/engine/metrics"
	"github.com/crystalline-lattice/engine/model"
	"github.com/crystalline-lattice/engine/optimizer"
	"github.com/crystalline-lattice/engine/scheduler"
	"github.com/crystalline-lattice/engine/xerr"
)

// Handle is the handle Train returns: everything needed to drive training
// one epoch at a time and observe its progress.
type Handle struct {
	cfg   Config
	model *model.Model
	table *lattice.Table
	sched *scheduler.Scheduler
	iter  *databatch.Iterator
	log   *logrus.Entry

	epochsRun int
}

// Train builds a lattice table, a Model (or validates a caller-supplied
// one), a batch iterator, and a scheduler, wiring them together per spec
// §6's train(config, token_stream, model?) -> TrainingHandle. Passing a
// nil model constructs and lattice-initializes a fresh one; passing a
// non-nil model requires its shapes to match cfg exactly.
func Train(cfg Config, tokenStream []uint32, m *model.Model) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	table, err := lattice.Build(cfg.VocabSize)
	if err != nil {
		return nil, err
	}

	wantShapes := model.Shapes{
		VocabSize: cfg.VocabSize, DModel: cfg.DModel, NHeads: cfg.NHeads,
		DFF: cfg.DFF, NLayers: cfg.NLayers, MaxSeqLen: cfg.MaxSeqLen, WeightTied: true,
	}
	if m == nil {
		m, err = model.New(wantShapes)
		if err != nil {
			return nil, err
		}
		m.InitFromLattice(table, cfg.RNGSeed)
	} else if m.Shapes != wantShapes {
		return nil, fmt.Errorf("training.Train: supplied model shapes %+v do not match config shapes %+v: %w", m.Shapes, wantShapes, xerr.InvalidConfig)
	}

	dbCfg := databatch.Config{
		BatchSize: cfg.BatchSize, SeqLen: cfg.SeqLen,
		Shuffle: cfg.Shuffle, DropLast: cfg.DropLast, Seed: cfg.RNGSeed,
	}
	iter, err := databatch.New(tokenStream, dbCfg)
	if err != nil {
		return nil, err
	}

	log := logrus.NewEntry(logrus.StandardLogger()).WithField("component", "training")

	defaultOpt := optimizer.DefaultConfig()
	schedCfg := scheduler.Config{
		NumSpheres:         cfg.NumThreads,
		MaxBatchesPerEpoch: cfg.MaxBatchesPerEpoch,
		Loss: loss.Config{
			LambdaPrime: cfg.LambdaPrime,
			LambdaDist:  cfg.LambdaLattice,
			TopK:        loss.DefaultConfig().TopK,
		},
		Optimizer: optimizer.Config{
			BaseLR:      cfg.BaseLR,
			Beta1:       defaultOpt.Beta1,
			Beta2:       defaultOpt.Beta2,
			Eps:         defaultOpt.Eps,
			WeightDecay: cfg.WeightDecay,
			MaxNorm:     cfg.MaxGradNorm,
			WarmupSteps: cfg.WarmupSteps,
			TotalSteps:  cfg.Epochs, // one optimizer step per epoch barrier, spec §4.H.2
			MinLRRatio:  cfg.MinLRRatio,
		},
	}
	sched, err := scheduler.New(m, table, schedCfg, log)
	if err != nil {
		return nil, err
	}

	return &Handle{cfg: cfg, model: m, table: table, sched: sched, iter: iter, log: log}, nil
}

// StepEpoch resets the batch iterator (spec §4.H.2 EpochBegin) and drives
// one full epoch through the scheduler. It refuses once all
// cfg.Epochs configured epochs have run.
func (h *Handle) StepEpoch(ctx context.Context) (scheduler.EpochReport, error) {
	if h.epochsRun >= h.cfg.Epochs {
		return scheduler.EpochReport{}, fmt.Errorf("training.StepEpoch: all %d configured epochs already ran: %w", h.cfg.Epochs, xerr.InvalidConfig)
	}
	h.iter.Reset()
	report, err := h.sched.StepEpoch(ctx, h.iter)
	h.epochsRun++
	return report, err
}

// SnapshotMetrics returns the scheduler's current published metrics
// (spec §4.J), cheap and lock-free.
func (h *Handle) SnapshotMetrics() metrics.Snapshot {
	return h.sched.SnapshotMetrics(h.epochsRun)
}

// Cancel requests cooperative shutdown of the in-flight or next epoch.
func (h *Handle) Cancel() { h.sched.Cancel() }

// Close releases the handle's scheduler resources (its gradient-
// reduction worker pool). Call once training has finished.
func (h *Handle) Close() { h.sched.Close() }

// Model returns the handle's underlying model for inspection or saving.
// Callers must not mutate it concurrently with StepEpoch.
func (h *Handle) Model() *model.Model { return h.model }

// EpochsRun returns the number of epochs StepEpoch has completed so far.
func (h *Handle) EpochsRun() int { return h.epochsRun }

// ShouldCheckpoint is a convenience forward to cfg.ShouldCheckpoint for
// the epoch just completed.
func (h *Handle) ShouldCheckpoint() bool { return h.cfg.ShouldCheckpoint(h.epochsRun) }
