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

// Package metrics holds the published snapshot the scheduler's root
// control thread builds at each epoch barrier (spec §4.J): one rollup per
// sphere plus the epoch's mean loss and the post-clip gradient norm.
// Observers only ever read a Snapshot value, never a sphere's live
// counters directly.
package metrics

import "github.com/samber/lo"

// SphereStats is one worker sphere's per-epoch rollup.
type SphereStats struct {
	SphereID         int
	SymGroup         uint8
	BatchesProcessed int
	SkippedBatches   int
	AccumulatedLoss  float64
	Poisoned         bool
}

// Snapshot is the published state of one epoch barrier, per spec §4.J:
// MetricsSnapshot { epoch, step, loss, per_sphere, grad_norm }.
type Snapshot struct {
	Epoch     int
	Step      int
	Loss      float64
	PerSphere []SphereStats
	GradNorm  float64
}

// TotalBatches sums BatchesProcessed across every sphere. MeanLoss uses
// it as its divisor; the scheduler's own EpochReport.BatchesProcessed is
// summed separately in scheduler.StepEpoch.
func TotalBatches(spheres []SphereStats) int {
	return lo.SumBy(spheres, func(s SphereStats) int { return s.BatchesProcessed })
}

// MeanLoss returns the batch-count-weighted mean of AccumulatedLoss
// across spheres that processed at least one batch, or 0 if none did.
func MeanLoss(spheres []SphereStats) float64 {
	totalLoss := lo.SumBy(spheres, func(s SphereStats) float64 { return s.AccumulatedLoss })
	n := TotalBatches(spheres)
	if n == 0 {
		return 0
	}
	return totalLoss / float64(n)
}

// GroupCounts rolls per-sphere batch counts up to their 12 symmetry
// groups, for the §8 "twelve-thread symmetry" scenario's assertion that
// no group starves.
func GroupCounts(spheres []SphereStats) [12]int {
	var counts [12]int
	for _, s := range spheres {
		counts[s.SymGroup%12] += s.BatchesProcessed
	}
	return counts
}
