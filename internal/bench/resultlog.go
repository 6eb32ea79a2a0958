// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bench

import (
	"context"
	"sort"

	"github.com/gogo/protobuf/proto"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"

	"github.com/grailbio/relaxq/relaxqpb"
)

// ResultLog appends one relaxqpb.RunResult record per repeat to an
// append-only recordio stream, replacing the CSV/console-only reporting
// spec.md leaves out of scope (§1's "results reporting/visualization beyond
// console summary" non-goal) with a structured log an external reporting
// tool can consume, the way pileup.go's newPileupMutable streams
// PileupRows to a recordio.Writer instead of holding them all in memory.
type ResultLog struct {
	f file.File
	w recordio.Writer
}

// NewResultLog creates (or truncates) path and returns a ResultLog ready to
// receive AppendResult calls. The caller must Close it when done.
func NewResultLog(ctx context.Context, path string) (*ResultLog, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "bench: create result log", path)
	}
	w := recordio.NewWriter(f.Writer(ctx), recordio.WriterOpts{
		Marshal: relaxqpb.Marshal,
	})
	return &ResultLog{f: f, w: w}, nil
}

// AppendResult appends one repeat's Result for the given subject name and
// sweep key/repeat.
func (l *ResultLog) AppendResult(subject string, key, repeat int, r Result) error {
	rr := &relaxqpb.RunResult{
		Subject:          subject,
		Key:              int32(key),
		Repeat:           int32(repeat),
		ElapsedSec:       r.ElapsedSec,
		NumDequeued:      int64(r.NumDequeued),
		SumRd:            int64(r.SumRD),
		MaxRd:            int64(r.MaxRD),
		ShortestDistance: r.ShortestDistance,
	}
	if r.NumRetries != nil && r.NumReclaimed != nil {
		rr.HasStats = true
		rr.NumRetries = *r.NumRetries
		rr.NumReclaimed = *r.NumReclaimed
	}
	return l.w.Append(rr)
}

// Close closes the underlying file. recordio.Writer.Append writes each
// record through immediately (no separate flush step, matching
// pileup.go's pileupMutable, which never calls anything but the backing
// *os.File's Close once writing is done).
func (l *ResultLog) Close(ctx context.Context) error {
	return l.f.Close(ctx)
}

// AppendAll appends every repeat of every key in results under subject,
// in key then repeat order.
func (l *ResultLog) AppendAll(subject string, results ResultMap) error {
	keys := make([]int, 0, len(results))
	for key := range results {
		keys = append(keys, key)
	}
	sort.Ints(keys)
	for _, key := range keys {
		for i, r := range results[key] {
			if err := l.AppendResult(subject, key, i+1, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadResultLog scans every RunResult record out of path, in file order.
func ReadResultLog(ctx context.Context, path string) ([]*relaxqpb.RunResult, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "bench: open result log", path)
	}
	defer func() { _ = f.Close(ctx) }()

	scanner := recordio.NewScanner(f.Reader(ctx), recordio.ScannerOpts{
		Unmarshal: func(data []byte) (interface{}, error) {
			rr := &relaxqpb.RunResult{}
			if err := proto.Unmarshal(data, rr); err != nil {
				return nil, err
			}
			return rr, nil
		},
	})

	var out []*relaxqpb.RunResult
	for scanner.Scan() {
		out = append(out, scanner.Get().(*relaxqpb.RunResult))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "bench: scan result log", path)
	}
	return out, nil
}
