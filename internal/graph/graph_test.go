// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/relaxq/internal/queue/dqrr"
)

func TestGenerateIsConnectedAndDeterministic(t *testing.T) {
	g1 := Generate(200, 2025)
	g2 := Generate(200, 2025)
	require.Equal(t, g1.adj, g2.adj)
	require.Equal(t, g1.ShortestDistance(), g2.ShortestDistance())
	require.Less(t, g1.ShortestDistance(), int32(200))
	require.GreaterOrEqual(t, g1.ShortestDistance(), int32(0))
}

func TestDifferentSeedsDivergeGraphs(t *testing.T) {
	g1 := Generate(200, 1)
	g2 := Generate(200, 2)
	require.NotEqual(t, g1.adj, g2.adj)
}

func TestSingleThreadBFSMatchesChainLowerBound(t *testing.T) {
	// A pure chain backbone (maxAdj=0 disables extra edges, but generate
	// always adds the chain) has shortest distance exactly numVertex-1.
	g := generate(50, 0, 1)
	require.Equal(t, int32(49), g.ShortestDistance())
}

func TestRelaxedBFSSingleThreadMatchesReference(t *testing.T) {
	g := Generate(300, 7)
	want := g.ShortestDistance()

	g.Reset()
	d := dqrr.New(4, 1, 4, dqrr.RoundRobin)
	d.Enq(0, 0)
	got := g.RelaxedBFS(0, 1, d)
	require.Equal(t, want, got)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, dir)
	path := filepath.Join(dir, "graph.bin")

	g := Generate(120, 42)
	ctx := vcontext.Background()
	require.NoError(t, g.Save(ctx, path))

	var loaded Graph
	require.NoError(t, loaded.Load(ctx, path))
	require.Equal(t, g.NumVertex(), loaded.NumVertex())
	require.Equal(t, g.ShortestDistance(), loaded.ShortestDistance())
	require.Equal(t, g.adj, loaded.adj)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, dir)
	path := filepath.Join(dir, "graph.bin")
	ctx := vcontext.Background()

	g := Generate(50, 1)
	require.NoError(t, g.Save(ctx, path))

	// Flip a byte in the middle of the file to break the checksum.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	var loaded Graph
	err = loaded.Load(ctx, path)
	require.Error(t, err)
}
