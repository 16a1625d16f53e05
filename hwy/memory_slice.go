// Copyright 2025 go-highway Authors
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

package hwy

// LoadSlice loads a vector from src, same as Load: it reads up to
// MaxLanes[T]() elements, tolerating a src shorter than a full vector.
// BaseDense uses this name for its loads; it is kept distinct from Load
// only so those call sites read the same as their upstream source.
func LoadSlice[T Lanes](src []T) Vec[T] {
	return Load(src)
}

// LoadFull loads a vector from src, same as Load. The name marks a load
// whose loop is already bounded to a multiple of the lane width; no code
// in this module calls it at present.
func LoadFull[T Lanes](src []T) Vec[T] {
	return Load(src)
}

// StoreFull writes a full vector's worth of lanes to dst, the write-side
// counterpart to LoadFull.
func StoreFull[T Lanes](v Vec[T], dst []T) {
	Store(v, dst)
}
