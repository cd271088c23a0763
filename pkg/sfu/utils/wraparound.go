// Copyright 2023 LiveKit, Inc.
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

package utils

import (
	"unsafe"
)

type number interface {
	uint16 | uint32
}

type extendedNumber interface {
	uint32 | uint64
}

// IsNewer reports whether a comes after b in wraparound order.
func IsNewer[T number](a, b T) bool {
	var t T
	halfRange := T(1) << (unsafe.Sizeof(t)*8 - 1)
	gap := a - b
	return gap != 0 && gap < halfRange
}

type WrapAround[T number, ET extendedNumber] struct {
	fullRange ET

	initialized bool
	highest     T
	cycles      int
}

func NewWrapAround[T number, ET extendedNumber]() *WrapAround[T, ET] {
	var t T
	return &WrapAround[T, ET]{
		fullRange: 1 << (unsafe.Sizeof(t) * 8),
	}
}

type WrapAroundUpdateResult[ET extendedNumber] struct {
	IsOutOfOrder       bool // duplicate or older than highest
	PreExtendedHighest ET
	ExtendedVal        ET
}

func (w *WrapAround[T, ET]) Update(val T) (result WrapAroundUpdateResult[ET]) {
	if !w.initialized {
		result.PreExtendedHighest = ET(val) - 1
		result.ExtendedVal = ET(val)

		w.highest = val
		w.initialized = true
		return
	}

	result.PreExtendedHighest = w.GetExtendedHighest()

	gap := val - w.highest
	if gap == 0 || gap > T(w.fullRange>>1) {
		result.IsOutOfOrder = true

		cycles := w.cycles
		if val > w.highest {
			// older value from the previous cycle
			cycles--
		}
		if cycles < 0 {
			cycles = 0
		}
		result.ExtendedVal = ET(cycles)*w.fullRange + ET(val)
		return
	}

	// in-order
	if val < w.highest {
		w.cycles++
	}
	w.highest = val

	result.ExtendedVal = ET(w.cycles)*w.fullRange + ET(val)
	return
}

func (w *WrapAround[T, ET]) Reset() {
	w.initialized = false
	w.highest = 0
	w.cycles = 0
}

func (w *WrapAround[T, ET]) IsInitialized() bool {
	return w.initialized
}

func (w *WrapAround[T, ET]) GetHighest() T {
	return w.highest
}

func (w *WrapAround[T, ET]) GetExtendedHighest() ET {
	return ET(w.cycles)*w.fullRange + ET(w.highest)
}
