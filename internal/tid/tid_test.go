// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tid

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	s := NewSpace(4)
	s.Set(2)
	require.Equal(t, 2, s.Get(2))
}

func TestConcurrentDistinctIDs(t *testing.T) {
	const n = 64
	s := NewSpace(n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.Set(id)
			require.Equal(t, id, s.Get(id))
		}(i)
	}
	wg.Wait()
}
