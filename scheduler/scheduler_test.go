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

package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crystalline-lattice/engine/databatch"
	"github.com/crystalline-lattice/engine/lattice"
	"github.com/crystalline-lattice/engine/metrics"
	"github.com/crystalline-lattice/engine/model"
	"github.com/crystalline-lattice/engine/xerr"
)

func testModelAndTable(t *testing.T, vocab int) (*model.Model, *lattice.Table) {
	t.Helper()
	table, err := lattice.Build(vocab)
	require.NoError(t, err)

	m, err := model.New(model.Shapes{VocabSize: vocab, DModel: 8, NHeads: 2, DFF: 16, NLayers: 1, MaxSeqLen: 8, WeightTied: true})
	require.NoError(t, err)
	m.InitFromLattice(table, 1)
	return m, table
}

func tokenStream(t *testing.T, vocab, n int) []uint32 {
	t.Helper()
	toks := make([]uint32, n)
	for i := range toks {
		toks[i] = uint32(i % vocab)
	}
	return toks
}

func TestStepEpochSingleSphereSmoke(t *testing.T) {
	m, table := testModelAndTable(t, 20)
	cfg := DefaultConfig()
	cfg.NumSpheres = 1
	sched, err := New(m, table, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, sched.NumSpheres())

	iter, err := databatch.New(tokenStream(t, 20, 200), databatch.Config{BatchSize: 2, SeqLen: 8, DropLast: true})
	require.NoError(t, err)

	report, err := sched.StepEpoch(context.Background(), iter)
	require.NoError(t, err)
	assert.True(t, report.OptimizerApplied)
	assert.Greater(t, report.BatchesProcessed, 0)
}

func TestStepEpochTwelveSpheresNoStarvation(t *testing.T) {
	m, table := testModelAndTable(t, 120)
	cfg := DefaultConfig()
	cfg.NumSpheres = 12
	sched, err := New(m, table, cfg, nil)
	require.NoError(t, err)

	iter, err := databatch.New(tokenStream(t, 120, 2000), databatch.Config{BatchSize: 2, SeqLen: 8, DropLast: true})
	require.NoError(t, err)

	_, err = sched.StepEpoch(context.Background(), iter)
	require.NoError(t, err)

	snap := sched.SnapshotMetrics(1)
	for _, sc := range snap.PerSphere {
		assert.Greater(t, sc.BatchesProcessed, 0, "sphere %d starved", sc.SphereID)
	}
}

func TestStepEpochProcessesExactlyKBatches(t *testing.T) {
	dbCfg := databatch.Config{BatchSize: 2, SeqLen: 8, DropLast: true}
	tokens := tokenStream(t, 20, 500)

	counter, err := databatch.New(tokens, dbCfg)
	require.NoError(t, err)
	wantK := 0
	for {
		if _, ok := counter.Next(); !ok {
			break
		}
		wantK++
	}
	require.Greater(t, wantK, 0)

	m, table := testModelAndTable(t, 20)
	cfg := DefaultConfig()
	cfg.NumSpheres = 4
	sched, err := New(m, table, cfg, nil)
	require.NoError(t, err)

	iter, err := databatch.New(tokens, dbCfg)
	require.NoError(t, err)

	report, err := sched.StepEpoch(context.Background(), iter)
	require.NoError(t, err)
	assert.Equal(t, wantK, report.BatchesProcessed)
	assert.Equal(t, 0, iter.Remaining())
}

func TestStepEpochEmptyStreamYieldsZeroBatches(t *testing.T) {
	m, table := testModelAndTable(t, 20)
	sched, err := New(m, table, DefaultConfig(), nil)
	require.NoError(t, err)

	iter, err := databatch.New(nil, databatch.Config{BatchSize: 2, SeqLen: 8, DropLast: true})
	require.NoError(t, err)

	report, err := sched.StepEpoch(context.Background(), iter)
	require.NoError(t, err)
	assert.Equal(t, 0, report.BatchesProcessed)
	assert.True(t, report.OptimizerApplied) // Apply still runs, over an all-zero gradient
}

func TestStepEpochCancelSkipsOptimizer(t *testing.T) {
	m, table := testModelAndTable(t, 20)
	cfg := DefaultConfig()
	cfg.NumSpheres = 2
	sched, err := New(m, table, cfg, nil)
	require.NoError(t, err)

	iter, err := databatch.New(tokenStream(t, 20, 5000), databatch.Config{BatchSize: 2, SeqLen: 8, DropLast: true})
	require.NoError(t, err)

	before := append([]float32(nil), m.Embedding...)
	sched.Cancel()
	report, err := sched.StepEpoch(context.Background(), iter)
	require.Error(t, err)
	assert.ErrorIs(t, err, xerr.Cancelled)
	assert.True(t, report.Cancelled)
	assert.Equal(t, before, m.Embedding)
}

func TestSnapshotMetricsGroupCountsCoverAllGroups(t *testing.T) {
	m, table := testModelAndTable(t, 120)
	cfg := DefaultConfig()
	cfg.NumSpheres = 12
	sched, err := New(m, table, cfg, nil)
	require.NoError(t, err)

	iter, err := databatch.New(tokenStream(t, 120, 2000), databatch.Config{BatchSize: 2, SeqLen: 8, DropLast: true})
	require.NoError(t, err)
	_, err = sched.StepEpoch(context.Background(), iter)
	require.NoError(t, err)

	snap := sched.SnapshotMetrics(1)
	counts := metrics.GroupCounts(snap.PerSphere)
	for g, c := range counts {
		assert.Greater(t, c, 0, "symmetry group %d starved", g)
	}
}
