// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bench

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grailbio/relaxq/internal/graph"
	"github.com/grailbio/relaxq/internal/queue"
	"github.com/grailbio/relaxq/internal/queue/dqrr"
)

func newDQRR(numThread int) queue.Queue {
	return dqrr.New(numThread*2, numThread, 1, dqrr.RoundRobin)
}

func TestRunMicrobenchmarkPopulatesElapsedAndStats(t *testing.T) {
	cfg := MicroSweepConfig{
		Keys:              []int{2, 4},
		EnqRatePercent:    70,
		DelayMicroseconds: 0,
		NumRepeat:         1,
	}
	results := RunMicrobenchmark(cfg, newDQRR)

	require.Len(t, results, 2)
	for _, key := range cfg.Keys {
		rs := results[key]
		require.Len(t, rs, 1)
		require.GreaterOrEqual(t, rs[0].ElapsedSec, 0.0)
		require.NotNil(t, rs[0].NumReclaimed)
		require.NotNil(t, rs[0].NumRetries)
		require.Equal(t, uint64(0), *rs[0].NumRetries)
	}
}

func TestRunMicrobenchmarkChecksRelaxationDistance(t *testing.T) {
	cfg := MicroSweepConfig{
		Keys:                     []int{4},
		ChecksRelaxationDistance: true,
		EnqRatePercent:           50,
		NumRepeat:                1,
	}
	results := RunMicrobenchmark(cfg, newDQRR)
	rs := results[4]
	require.Len(t, rs, 1)
	require.GreaterOrEqual(t, rs[0].NumDequeued, 0)
}

func TestRunMacrobenchmarkReportsShortestDistance(t *testing.T) {
	g := graph.Generate(300, 11)
	cfg := MacroSweepConfig{
		Keys:      []int{4},
		NumRepeat: 1,
	}
	results := RunMacrobenchmark(cfg, newDQRR, g)
	rs := results[4]
	require.Len(t, rs, 1)
	require.Equal(t, g.ShortestDistance(), rs[0].ShortestDistance)
}

func TestScalesWithDepthUsesFixedThreadCount(t *testing.T) {
	// Every key exceeds FixedNumThread, and the subject only accepts tids
	// below 4, so running any key's worth of threads would panic.
	cfg := MicroSweepConfig{
		Keys:            []int{8, 16, 32},
		ScalesWithDepth: true,
		FixedNumThread:  4,
		EnqRatePercent:  70,
		NumRepeat:       1,
	}
	results := RunMicrobenchmark(cfg, func(depth int) queue.Queue {
		return dqrr.New(4*2, 4, 1, dqrr.RoundRobin)
	})
	require.Len(t, results, 3)
}
