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

package timesync

import (
	"math"
	"time"

	"container/ring"

	"github.com/eclesh/welford"
)

type offsetSample struct {
	at     time.Time
	offset float64 // nanoseconds
}

// window is a fixed-capacity ring buffer of accepted offset samples,
// oldest evicted first
type window struct {
	size        int
	currentSize int
	samples     *ring.Ring
}

func newWindow(size int) *window {
	if size < 1 {
		size = 1
	}
	w := &window{
		size:    size,
		samples: ring.New(size),
	}
	for i := 0; i < w.size; i++ {
		w.samples.Value = offsetSample{offset: math.NaN()}
		w.samples = w.samples.Next()
	}
	return w
}

func (w *window) add(at time.Time, offset float64) {
	w.samples = w.samples.Next()
	if w.currentSize < w.size {
		w.currentSize++
	}
	w.samples.Value = offsetSample{at: at, offset: offset}
}

// allSamples returns buffered samples ordered oldest to newest
func (w *window) allSamples() []offsetSample {
	s := make([]offsetSample, 0, w.currentSize)
	r := w.samples
	for j := 0; j < w.size; j++ {
		v := r.Value.(offsetSample)
		if !math.IsNaN(v.offset) {
			s = append(s, v)
		}
		r = r.Prev()
	}
	// collected newest first, flip to oldest first
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
	return s
}

func (w *window) offsets() []float64 {
	all := w.allSamples()
	out := make([]float64, len(all))
	for i, v := range all {
		out[i] = v.offset
	}
	return out
}

func (w *window) mean() float64 {
	return statMean(w.offsets())
}

func (w *window) stddev() float64 {
	return statStddev(w.offsets())
}

// weightedMean weights newer samples linearly heavier than older ones
func (w *window) weightedMean() float64 {
	all := w.offsets()
	if len(all) == 0 {
		return math.NaN()
	}
	var sum, weights float64
	for i, v := range all {
		weight := float64(i + 1)
		sum += v * weight
		weights += weight
	}
	return sum / weights
}

// halves splits the buffer into older and recent offsets for trend detection
func (w *window) halves() (older, recent []float64) {
	all := w.offsets()
	mid := len(all) / 2
	return all[:mid], all[mid:]
}

// oldest and newest return the edge samples, used for slope estimation
func (w *window) oldest() (offsetSample, bool) {
	all := w.allSamples()
	if len(all) == 0 {
		return offsetSample{}, false
	}
	return all[0], true
}

func (w *window) newest() (offsetSample, bool) {
	v := w.samples.Value.(offsetSample)
	if math.IsNaN(v.offset) {
		return offsetSample{}, false
	}
	return v, true
}

func statMean(input []float64) float64 {
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Mean()
}

func statStddev(input []float64) float64 {
	s := welford.New()
	for _, v := range input {
		s.Add(v)
	}
	return s.Stddev()
}
