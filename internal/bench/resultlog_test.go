// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bench

import (
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/require"
)

func TestResultLogAppendAndReadRoundTrip(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, dir)
	path := filepath.Join(dir, "results.recordio")
	ctx := vcontext.Background()

	retries, reclaimed := uint64(0), uint64(7)
	results := ResultMap{
		4: {
			{ElapsedSec: 1.5, NumDequeued: 10, SumRD: 20, MaxRD: 3, NumRetries: &retries, NumReclaimed: &reclaimed},
			{ElapsedSec: 1.6, NumDequeued: 11, SumRD: 22, MaxRD: 4},
		},
	}

	rl, err := NewResultLog(ctx, path)
	require.NoError(t, err)
	require.NoError(t, rl.AppendAll("dqrr", results))
	require.NoError(t, rl.Close(ctx))

	records, err := ReadResultLog(ctx, path)
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, "dqrr", records[0].Subject)
	require.Equal(t, int32(4), records[0].Key)
	require.Equal(t, int32(1), records[0].Repeat)
	require.True(t, records[0].HasStats)
	require.Equal(t, uint64(7), records[0].NumReclaimed)

	require.Equal(t, int32(2), records[1].Repeat)
	require.False(t, records[1].HasStats)
}
