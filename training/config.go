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

package training

import (
	"fmt"

	"github.com/crystalline-lattice/engine/xerr"
)

// Config is the public configuration object from spec §6. It is a plain
// yaml-tagged struct so a CLI or config-file collaborator outside this
// module can gopkg.in/yaml.v3-unmarshal into it directly; this package
// never reads a file or environment variable itself.
type Config struct {
	VocabSize int `yaml:"vocab_size"`
	DModel    int `yaml:"d_model"`
	NHeads    int `yaml:"n_heads"`
	DFF       int `yaml:"d_ff"`
	NLayers   int `yaml:"n_layers"`
	MaxSeqLen int `yaml:"max_seq_len"`

	BatchSize int `yaml:"batch_size"`
	SeqLen    int `yaml:"seq_len"`

	Epochs             int `yaml:"epochs"`
	MaxBatchesPerEpoch int `yaml:"max_batches_per_epoch"`

	BaseLR      float64 `yaml:"base_lr"`
	MinLRRatio  float64 `yaml:"min_lr_ratio"`
	WarmupSteps int     `yaml:"warmup_steps"`
	WeightDecay float64 `yaml:"weight_decay"`
	MaxGradNorm float64 `yaml:"max_grad_norm"`

	LambdaPrime   float64 `yaml:"lambda_prime"`
	LambdaLattice float64 `yaml:"lambda_lattice"`

	// NumThreads is N from spec §4.H.1; zero means auto (num_cpu_cores-1).
	NumThreads int `yaml:"num_threads"`
	// ThreadStackBytes is carried for config-schema fidelity with spec §6
	// (the original's systems-language runtime lets a caller bound each
	// worker thread's native stack). Go goroutine stacks grow and shrink
	// dynamically and expose no such knob, so this field is validated but
	// otherwise unused by the scheduler — documented as an open-question
	// resolution rather than silently dropped.
	ThreadStackBytes int `yaml:"thread_stack_bytes"`

	DropLast bool   `yaml:"drop_last"`
	Shuffle  bool   `yaml:"shuffle"`
	RNGSeed  uint64 `yaml:"rng_seed"`

	// CheckpointEveryEpochs is advisory only: this package never touches
	// the filesystem (spec §6 "the core does not... create files other
	// than when an external caller invokes Model::save"). Callers can use
	// ShouldCheckpoint to decide when to call model.Save themselves.
	CheckpointEveryEpochs int `yaml:"checkpoint_every_epochs"`
}

// DefaultConfig returns a small but fully valid configuration suitable
// for smoke tests; production callers override the shape/schedule
// fields.
func DefaultConfig() Config {
	return Config{
		VocabSize: 1000,
		DModel:    256,
		NHeads:    8,
		DFF:       1024,
		NLayers:   6,
		MaxSeqLen: 512,

		BatchSize: 32,
		SeqLen:    128,

		Epochs:             10,
		MaxBatchesPerEpoch: 1_000_000,

		BaseLR:      3e-4,
		MinLRRatio:  0.1,
		WarmupSteps: 1,
		WeightDecay: 0.01,
		MaxGradNorm: 1.0,

		LambdaPrime:   0.3,
		LambdaLattice: 0.2,

		NumThreads:       0,
		ThreadStackBytes: 1 << 20,

		DropLast: true,
		Shuffle:  true,
		RNGSeed:  0,

		CheckpointEveryEpochs: 1,
	}
}

// Validate checks every field's range, independent of the subsystem
// Configs it will be translated into (so a caller gets one clear error
// before any model or scheduler allocation happens).
func (c Config) Validate() error {
	if c.VocabSize <= 0 || c.DModel <= 0 || c.NHeads <= 0 || c.DFF <= 0 || c.NLayers <= 0 || c.MaxSeqLen <= 0 {
		return fmt.Errorf("training.Config: model shape fields must be positive: %w", xerr.InvalidConfig)
	}
	if c.DModel%c.NHeads != 0 {
		return fmt.Errorf("training.Config: d_model (%d) not divisible by n_heads (%d): %w", c.DModel, c.NHeads, xerr.InvalidConfig)
	}
	if c.BatchSize <= 0 || c.SeqLen <= 0 {
		return fmt.Errorf("training.Config: batch_size and seq_len must be positive: %w", xerr.InvalidConfig)
	}
	if c.Epochs <= 0 || c.MaxBatchesPerEpoch <= 0 {
		return fmt.Errorf("training.Config: epochs and max_batches_per_epoch must be positive: %w", xerr.InvalidConfig)
	}
	if c.BaseLR <= 0 || c.MinLRRatio < 0 || c.MinLRRatio > 1 || c.WarmupSteps < 0 || c.WarmupSteps > c.Epochs {
		return fmt.Errorf("training.Config: learning-rate schedule fields out of range: %w", xerr.InvalidConfig)
	}
	if c.WeightDecay < 0 || c.MaxGradNorm <= 0 {
		return fmt.Errorf("training.Config: weight_decay/max_grad_norm out of range: %w", xerr.InvalidConfig)
	}
	if c.LambdaPrime < 0 || c.LambdaPrime > 1 || c.LambdaLattice < 0 || c.LambdaLattice > 1 {
		return fmt.Errorf("training.Config: lambda_prime/lambda_lattice must be in [0,1]: %w", xerr.InvalidConfig)
	}
	if c.NumThreads < 0 || c.ThreadStackBytes <= 0 {
		return fmt.Errorf("training.Config: num_threads/thread_stack_bytes out of range: %w", xerr.InvalidConfig)
	}
	if c.CheckpointEveryEpochs < 0 {
		return fmt.Errorf("training.Config: checkpoint_every_epochs must not be negative: %w", xerr.InvalidConfig)
	}
	return nil
}

// ShouldCheckpoint reports whether an external caller's checkpoint policy
// (epoch % CheckpointEveryEpochs == 0) fires for the given completed
// epoch number. CheckpointEveryEpochs == 0 disables checkpointing.
func (c Config) ShouldCheckpoint(epoch int) bool {
	if c.CheckpointEveryEpochs <= 0 {
		return false
	}
	return epoch%c.CheckpointEveryEpochs == 0
}
