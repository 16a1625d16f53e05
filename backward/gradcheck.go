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

package backward

// NumericGradient estimates d(loss)/d(param[i]) via central differences,
// for verifying the analytic backward pass against a black-box loss
// function (spec §8 property 5: "gradients computed via the scheduler
// match numeric finite-difference gradients on a small model within
// tolerance"). Intentionally slow (two full loss evaluations per
// parameter) — this is a test-only tool, never called from the training
// path.
func NumericGradient(param []float32, idx int, eps float32, lossFn func() (float64, error)) (float64, error) {
	orig := param[idx]

	param[idx] = orig + eps
	plus, err := lossFn()
	if err != nil {
		param[idx] = orig
		return 0, err
	}

	param[idx] = orig - eps
	minus, err := lossFn()
	if err != nil {
		param[idx] = orig
		return 0, err
	}

	param[idx] = orig
	return (plus - minus) / float64(2*eps), nil
}
