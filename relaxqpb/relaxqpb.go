// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package relaxqpb holds the wire message types for the benchmark driver's
// result-aggregation log and graph snapshots: Graph (a wire-friendly
// projection of internal/graph.Graph's adjacency and reference distance) and
// RunResult (one repeat's measurement, wrapping bench.Result). These are
// ordinary hand-declared Go structs with protobuf field tags rather than
// protoc-gen-gogo output (this tree has no .proto source or protoc
// invocation), marshaled through gogo/protobuf/proto's reflection-based
// Marshal/Unmarshal path the same way biopb's types are declared by hand in
// biopb/coord.go rather than generated inline.
package relaxqpb

import "github.com/gogo/protobuf/proto"

// Graph is the wire form of a generated or loaded benchmark graph: the flat
// adjacency list plus the reference single-threaded BFS distance, so a
// generated graph can be round-tripped through the driver's recordio log
// without re-deriving the reference distance on every load.
type Graph struct {
	NumVertex        int32        `protobuf:"varint,1,opt,name=num_vertex" json:"num_vertex,omitempty"`
	Adjacency        []*Adjacency `protobuf:"bytes,2,rep,name=adjacency" json:"adjacency,omitempty"`
	ShortestDistance int32        `protobuf:"varint,3,opt,name=shortest_distance" json:"shortest_distance,omitempty"`
}

func (m *Graph) Reset()         { *m = Graph{} }
func (m *Graph) String() string { return proto.CompactTextString(m) }
func (*Graph) ProtoMessage()    {}

// Adjacency is one vertex's neighbor list.
type Adjacency struct {
	Neighbor []int32 `protobuf:"varint,1,rep,name=neighbor" json:"neighbor,omitempty"`
}

func (m *Adjacency) Reset()         { *m = Adjacency{} }
func (m *Adjacency) String() string { return proto.CompactTextString(m) }
func (*Adjacency) ProtoMessage()    {}

// RunResult is one sweep repeat's measurement, the wire form of
// bench.Result, appended to the driver's recordio result log (one record
// per (subject, key, repeat) tuple).
type RunResult struct {
	Subject          string  `protobuf:"bytes,1,opt,name=subject" json:"subject,omitempty"`
	Key              int32   `protobuf:"varint,2,opt,name=key" json:"key,omitempty"`
	Repeat           int32   `protobuf:"varint,3,opt,name=repeat" json:"repeat,omitempty"`
	ElapsedSec       float64 `protobuf:"fixed64,4,opt,name=elapsed_sec" json:"elapsed_sec,omitempty"`
	NumDequeued      int64   `protobuf:"varint,5,opt,name=num_dequeued" json:"num_dequeued,omitempty"`
	SumRd            int64   `protobuf:"varint,6,opt,name=sum_rd" json:"sum_rd,omitempty"`
	MaxRd            int64   `protobuf:"varint,7,opt,name=max_rd" json:"max_rd,omitempty"`
	ShortestDistance int32   `protobuf:"varint,8,opt,name=shortest_distance" json:"shortest_distance,omitempty"`
	// NumRetries/NumReclaimed are only present when the subject exposed them
	// (bench.Result.NumRetries/NumReclaimed are *uint64); HasStats
	// distinguishes "subject reported zero" from "subject didn't report".
	HasStats     bool   `protobuf:"varint,9,opt,name=has_stats" json:"has_stats,omitempty"`
	NumRetries   uint64 `protobuf:"varint,10,opt,name=num_retries" json:"num_retries,omitempty"`
	NumReclaimed uint64 `protobuf:"varint,11,opt,name=num_reclaimed" json:"num_reclaimed,omitempty"`
}

func (m *RunResult) Reset()         { *m = RunResult{} }
func (m *RunResult) String() string { return proto.CompactTextString(m) }
func (*RunResult) ProtoMessage()    {}

// Marshal encodes m via gogo/protobuf/proto's reflection-based marshaler,
// matching the (scratch []byte, v interface{}) ([]byte, error) shape
// recordio.WriterOpts.Marshal expects (see internal/bench/resultlog.go).
func Marshal(_ []byte, v interface{}) ([]byte, error) {
	return proto.Marshal(v.(proto.Message))
}
