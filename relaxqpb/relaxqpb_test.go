// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package relaxqpb

import (
	"testing"

	"github.com/gogo/protobuf/proto"
	"github.com/stretchr/testify/require"
)

func TestRunResultMarshalRoundTrip(t *testing.T) {
	want := &RunResult{
		Subject:          "dqrr",
		Key:              8,
		Repeat:           2,
		ElapsedSec:       1.25,
		NumDequeued:      100000,
		SumRd:            420000,
		MaxRd:            17,
		ShortestDistance: 42,
		HasStats:         true,
		NumRetries:       0,
		NumReclaimed:     99,
	}

	data, err := Marshal(nil, want)
	require.NoError(t, err)

	got := &RunResult{}
	require.NoError(t, proto.Unmarshal(data, got))
	require.Equal(t, want, got)
}

func TestGraphMarshalRoundTrip(t *testing.T) {
	want := &Graph{
		NumVertex:        3,
		Adjacency:        []*Adjacency{{Neighbor: []int32{1}}, {Neighbor: []int32{0, 2}}, {Neighbor: []int32{1}}},
		ShortestDistance: 2,
	}

	data, err := Marshal(nil, want)
	require.NoError(t, err)

	got := &Graph{}
	require.NoError(t, proto.Unmarshal(data, got))
	require.Equal(t, want, got)
}
