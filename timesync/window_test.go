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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWindowEviction(t *testing.T) {
	w := newWindow(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		w.add(base.Add(time.Duration(i)*time.Second), float64(i))
	}
	require.Equal(t, 3, w.currentSize)
	require.Equal(t, []float64{2, 3, 4}, w.offsets())
}

func TestWindowWeightedMeanFavorsRecent(t *testing.T) {
	w := newWindow(4)
	base := time.Now()
	w.add(base, 0)
	w.add(base.Add(time.Second), 0)
	w.add(base.Add(2*time.Second), 100)
	w.add(base.Add(3*time.Second), 100)
	// plain mean is 50, recency weighting pulls towards 100
	require.Greater(t, w.weightedMean(), w.mean())
}

func TestWindowHalves(t *testing.T) {
	w := newWindow(10)
	base := time.Now()
	for i := 0; i < 6; i++ {
		w.add(base.Add(time.Duration(i)*time.Second), float64(i))
	}
	older, recent := w.halves()
	require.Equal(t, []float64{0, 1, 2}, older)
	require.Equal(t, []float64{3, 4, 5}, recent)
}

func TestWindowEdges(t *testing.T) {
	w := newWindow(5)

	_, ok := w.oldest()
	require.False(t, ok)
	_, ok = w.newest()
	require.False(t, ok)

	base := time.Now()
	w.add(base, 1)
	w.add(base.Add(time.Second), 2)

	oldest, ok := w.oldest()
	require.True(t, ok)
	require.Equal(t, 1.0, oldest.offset)
	newest, ok := w.newest()
	require.True(t, ok)
	require.Equal(t, 2.0, newest.offset)
}

func TestWindowMinimumSize(t *testing.T) {
	w := newWindow(0)
	require.Equal(t, 1, w.size)
	w.add(time.Now(), 7)
	require.Equal(t, []float64{7}, w.offsets())
}
