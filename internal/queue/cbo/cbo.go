// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cbo implements the CBO (choice-of-d balanced) k-relaxed queue: a
// bank of partial queues where each enqueue/dequeue samples d candidates via
// a partial Fisher-Yates shuffle of a per-thread permutation and picks the
// one with the lowest tail/head stamp, then falls back to a full
// double-collect sweep if its chosen queue turns out empty.
package cbo

import (
	"github.com/grailbio/base/log"

	"github.com/grailbio/relaxq/internal/ebr"
	"github.com/grailbio/relaxq/internal/pqueue"
	"github.com/grailbio/relaxq/internal/rdm"
	"github.com/grailbio/relaxq/internal/xrand"
)

type node = pqueue.Node[int]

// CBO is a d-choice balanced bank of numQueue partial queues.
type CBO struct {
	d       int
	indices [][]int // one permutation per thread, reshuffled in its first d slots each call
	queues  []*pqueue.Queue[int]
	rng     []*xrand.Source
	ebr     *ebr.Manager[*node]
	rdm     *rdm.Manager[*node]
}

// New constructs a CBO bank of numQueue partial queues serving numThread
// threads, sampling d candidates per selection.
func New(numQueue, numThread, d int) *CBO {
	c := &CBO{
		d:       d,
		indices: make([][]int, numThread),
		queues:  make([]*pqueue.Queue[int], numQueue),
		rng:     make([]*xrand.Source, numThread),
		ebr:     ebr.New[*node](numThread),
		rdm:     rdm.New[*node](),
	}
	for i := range c.queues {
		c.queues[i] = pqueue.New[int]()
	}
	for t := range c.indices {
		perm := make([]int, numQueue)
		for i := range perm {
			perm[i] = i
		}
		c.indices[t] = perm
		c.rng[t] = xrand.NewSource(xrand.DiversifiedSeed(1, t))
	}
	return c
}

func (c *CBO) CheckRelaxationDistance() {
	c.rdm.CheckRelaxationDistance()
}

func (c *CBO) GetRelaxationDistance() (numDequeued, sumRD, maxRD int) {
	return c.rdm.RelaxationDistance()
}

// Stats reports EBR's node-reclaim count; retries always reads 0 (see
// dqrr.DQRR.Stats's doc comment for why).
func (c *CBO) Stats() (retries, reclaimed uint64) {
	return 0, c.ebr.Reclaimed()
}

// shuffleIndex performs a partial Fisher-Yates over tid's permutation,
// randomizing only the first d slots (the d candidates this call will
// inspect) while leaving the rest untouched, matching the original's
// ShuffleIndex.
func (c *CBO) shuffleIndex(tid int) {
	indices := c.indices[tid]
	for i := 0; i < c.d; i++ {
		r := i + c.rng[tid].Intn(len(indices)-i)
		indices[i], indices[r] = indices[r], indices[i]
	}
}

func (c *CBO) enqueuerIndex(tid int) int {
	c.shuffleIndex(tid)
	indices := c.indices[tid]
	best := indices[0]
	bestMeta := c.queues[best].Tail().Meta()
	for _, id := range indices[1:c.d] {
		if m := c.queues[id].Tail().Meta(); m < bestMeta {
			best, bestMeta = id, m
		}
	}
	return best
}

func (c *CBO) dequeuerIndex(tid int) int {
	c.shuffleIndex(tid)
	indices := c.indices[tid]
	best := indices[0]
	bestMeta := c.queues[best].Head().Meta()
	for _, id := range indices[1:c.d] {
		if m := c.queues[id].Head().Meta(); m < bestMeta {
			best, bestMeta = id, m
		}
	}
	return best
}

// Enq publishes v to the partial queue with the lowest tail stamp among d
// randomly-sampled candidates.
func (c *CBO) Enq(tid int, v int) {
	if tid < 0 || tid >= len(c.rng) {
		log.Panicf("cbo: tid %d out of range", tid)
	}
	c.ebr.StartOp(tid)
	id := c.enqueuerIndex(tid)
	n := pqueue.NewNode(v, 0)
	pqueue.EnqChained(c.queues[id], n, c.rdm, func(prevTail *node) uint64 {
		return prevTail.Meta() + 1
	})
	c.ebr.EndOp(tid)
}

// Deq tries the optimal (lowest head stamp) candidate first, falling back
// to a full double-collect sweep across the bank if that candidate's queue
// is empty.
func (c *CBO) Deq(tid int) (int, bool) {
	if tid < 0 || tid >= len(c.rng) {
		log.Panicf("cbo: tid %d out of range", tid)
	}
	c.ebr.StartOp(tid)
	optimal := c.dequeuerIndex(tid)
	v, _, status := pqueue.TryDeq(c.queues[optimal], tid, c.ebr, c.rdm)
	if status == pqueue.Value {
		c.ebr.EndOp(tid)
		return v, true
	}
	v, ok := c.doubleCollect(tid, optimal)
	c.ebr.EndOp(tid)
	return v, ok
}

func (c *CBO) doubleCollect(tid int, start int) (int, bool) {
	versions := make([]*node, len(c.queues))
	for {
		for i := 0; i < len(c.queues); i++ {
			id := (start + i) % len(c.queues)
			versions[id] = c.queues[id].Tail()
			v, _, status := pqueue.TryDeq(c.queues[id], tid, c.ebr, c.rdm)
			if status == pqueue.Value {
				return v, true
			}
		}

		isEmpty := true
		for i := 0; i < len(c.queues); i++ {
			id := (start + i) % len(c.queues)
			if versions[id] != c.queues[id].Tail() {
				isEmpty = false
				start = id
				break
			}
		}
		if isEmpty {
			return 0, false
		}
	}
}
