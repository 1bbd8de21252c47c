// Copyright 2024 The Loqui Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package runqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunQueueConsistency(t *testing.T) {
	var n int32

	var wg sync.WaitGroup
	fn := func() {
		n++
		wg.Done()
	}

	q := New()

	for i := 0; i < 2000; i++ {
		wg.Add(1)
		q.Post(fn)
		if i%2 == 1 {
			time.Sleep(time.Millisecond)
		}
	}
	wg.Wait()

	require.Equal(t, int32(2000), n)
}

func TestRunQueueOrder(t *testing.T) {
	var got []int
	var wg sync.WaitGroup

	q := New()
	wg.Add(100)
	for i := 0; i < 100; i++ {
		i := i
		q.Post(func() {
			got = append(got, i)
			wg.Done()
		})
	}
	wg.Wait()

	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestRunQueueReentrantPost(t *testing.T) {
	q := New()
	done := make(chan struct{})
	q.Post(func() {
		// Posting from inside the queue must not deadlock.
		q.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "reentrant post never ran")
	}
}
