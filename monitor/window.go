/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package monitor

import (
	"math"
)

// slidingWindow keeps the last N samples with newest first
type slidingWindow struct {
	size        int
	currentSize int
	sum         float64
	samples     []float64
}

func newSlidingWindow(size int) *slidingWindow {
	if size < 1 {
		size = 1
	}
	w := &slidingWindow{
		size:    size,
		samples: make([]float64, size),
	}
	for i := 0; i < w.size; i++ {
		w.samples[i] = math.NaN()
	}
	return w
}

func (w *slidingWindow) add(sample float64) {
	if !w.full() {
		w.currentSize++
	} else {
		w.sum -= w.samples[w.size-1]
	}
	for i := w.currentSize - 1; i > 0; i-- {
		w.samples[i] = w.samples[i-1]
	}

	w.samples[0] = sample
	w.sum += sample
}

func (w *slidingWindow) full() bool {
	return w.currentSize == w.size
}

func (w *slidingWindow) empty() bool {
	return w.currentSize == 0
}

func (w *slidingWindow) lastSample() float64 {
	return w.samples[0]
}

func (w *slidingWindow) mean() float64 {
	if w.currentSize == 0 {
		return math.NaN()
	}
	return w.sum / float64(w.currentSize)
}

func (w *slidingWindow) allSamples() []float64 {
	return w.samples[0:w.currentSize]
}
