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

// Package optimizer implements Adam with decoupled weight decay, global
// gradient-norm clipping, and a linear-warmup/cosine-decay learning-rate
// schedule, applied uniformly over every Model parameter block (spec
// §4.F). Per-block parallelism uses golang.org/x/sync/errgroup, the same
// dependency the rest of the pack reaches for structured concurrent
// fan-out.
package optimizer

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/crystalline-lattice/engine/gradaccum"
	"github.com/crystalline-lattice/engine/model"
	"github.com/crystalline-lattice/engine/xerr"
)

// Config holds the Adam hyperparameters and schedule from spec §4.F.
type Config struct {
	BaseLR      float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
	MaxNorm     float64
	WarmupSteps int
	TotalSteps  int
	MinLRRatio  float64
}

// DefaultConfig returns the documented Adam defaults plus a
// conservative schedule.
func DefaultConfig() Config {
	return Config{
		BaseLR:      3e-4,
		Beta1:       0.9,
		Beta2:       0.999,
		Eps:         1e-8,
		WeightDecay: 0.01,
		MaxNorm:     1.0,
		WarmupSteps: 100,
		TotalSteps:  10000,
		MinLRRatio:  0.1,
	}
}

// Validate checks that every hyperparameter is in a usable range.
func (c Config) Validate() error {
	if c.BaseLR <= 0 || c.Beta1 <= 0 || c.Beta1 >= 1 || c.Beta2 <= 0 || c.Beta2 >= 1 || c.Eps <= 0 {
		return fmt.Errorf("optimizer.Config: beta/eps/lr out of range: %w", xerr.InvalidConfig)
	}
	if c.MaxNorm <= 0 || c.WarmupSteps < 0 || c.TotalSteps <= 0 || c.MinLRRatio < 0 || c.MinLRRatio > 1 {
		return fmt.Errorf("optimizer.Config: schedule/clip parameters out of range: %w", xerr.InvalidConfig)
	}
	if c.WarmupSteps > c.TotalSteps {
		return fmt.Errorf("optimizer.Config: warmup_steps must not exceed total_steps: %w", xerr.InvalidConfig)
	}
	return nil
}

// nonFiniteLRDecay is the factor the effective learning rate is
// multiplied by every time Apply recovers from a non-finite gradient
// (spec §4.F step 1 / §7: "recoverable: scale learning rate down,
// continue"). It compounds across consecutive recoveries.
const nonFiniteLRDecay = 0.5

// Optimizer holds the first/second moment buffers, mirroring the flat
// gradient-buffer layout so Adam state lines up one-to-one with
// parameters.
type Optimizer struct {
	cfg             Config
	step            int
	m, v            []float32
	lrRecoveryScale float64
}

// New allocates zeroed Adam state for totalParams parameters.
func New(cfg Config, totalParams int) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if totalParams <= 0 {
		return nil, fmt.Errorf("optimizer.New: totalParams must be positive: %w", xerr.InvalidConfig)
	}
	return &Optimizer{
		cfg:             cfg,
		m:               make([]float32, totalParams),
		v:               make([]float32, totalParams),
		lrRecoveryScale: 1,
	}, nil
}

// Step returns the current optimizer step counter (number of applied
// updates so far).
func (o *Optimizer) Step() int { return o.step }

// LR returns the learning rate for the given 1-indexed step: linear
// warmup over WarmupSteps, then cosine decay down to MinLRRatio*BaseLR
// over the remaining TotalSteps-WarmupSteps steps, held flat at the
// floor thereafter, scaled by lrRecoveryScale (1 unless Apply has had to
// recover from a non-finite gradient).
func (o *Optimizer) LR(step int) float64 {
	c := o.cfg
	scale := o.lrRecoveryScale
	if scale == 0 {
		scale = 1
	}
	if c.WarmupSteps > 0 && step < c.WarmupSteps {
		return scale * c.BaseLR * float64(step) / float64(c.WarmupSteps)
	}
	decaySteps := c.TotalSteps - c.WarmupSteps
	if decaySteps <= 0 {
		return scale * c.BaseLR
	}
	progress := float64(step-c.WarmupSteps) / float64(decaySteps)
	if progress > 1 {
		progress = 1
	}
	cosine := 0.5 * (1 + math.Cos(math.Pi*progress))
	floor := c.MinLRRatio
	return scale * c.BaseLR * (floor + (1-floor)*cosine)
}

// Apply applies one Adam-with-decoupled-weight-decay update to every
// parameter block of m, reading gradients from acc.Final via layout,
// clipping by global L2 norm first, and zeroing acc afterward (spec
// §4.F steps 1-4). It reports (false, xerr.NonFiniteGradient-wrapped
// error) and leaves parameters and the step counter untouched if any
// gradient element is non-finite, per spec §8 scenario 6, but does
// permanently halve lrRecoveryScale first, so every subsequent call to
// LR returns a reduced rate — the "scale learning rate down, continue"
// half of the recovery.
func (o *Optimizer) Apply(ctx context.Context, m *model.Model, layout *gradaccum.Layout, acc *gradaccum.Accumulator) (bool, error) {
	for _, g := range acc.Final {
		if math.IsNaN(float64(g)) || math.IsInf(float64(g), 0) {
			o.lrRecoveryScale *= nonFiniteLRDecay
			return false, fmt.Errorf("optimizer.Apply: non-finite gradient encountered: %w", xerr.NonFiniteGradient)
		}
	}

	globalNorm := math.Sqrt(acc.GlobalNormSquared())
	clipScale := 1.0
	if globalNorm > o.cfg.MaxNorm {
		clipScale = o.cfg.MaxNorm / (globalNorm + 1e-6)
	}

	o.step++
	lr := o.LR(o.step)
	beta1, beta2, eps, wd := o.cfg.Beta1, o.cfg.Beta2, o.cfg.Eps, o.cfg.WeightDecay
	bc1 := 1 - math.Pow(beta1, float64(o.step))
	bc2 := 1 - math.Pow(beta2, float64(o.step))

	grp, gctx := errgroup.WithContext(ctx)
	for _, block := range m.Blocks() {
		block := block
		if len(block.Data) == 0 {
			continue
		}
		grp.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			grad := layout.Slice(acc.Final, block.Name)
			off := layout.Offset(block.Name)
			mSlice := o.m[off : off+len(block.Data)]
			vSlice := o.v[off : off+len(block.Data)]
			for i, p := range block.Data {
				g := float64(grad[i]) * clipScale
				mSlice[i] = float32(beta1*float64(mSlice[i]) + (1-beta1)*g)
				vSlice[i] = float32(beta2*float64(vSlice[i]) + (1-beta2)*g*g)
				mHat := float64(mSlice[i]) / bc1
				vHat := float64(vSlice[i]) / bc2
				update := lr * (mHat/(math.Sqrt(vHat)+eps) + wd*float64(p))
				block.Data[i] = p - float32(update)
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return false, fmt.Errorf("optimizer.Apply: %w", err)
	}

	acc.ZeroAll()
	return true, nil
}
