// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package main

// relaxq-bench drives the microbenchmark (throughput / relaxation distance)
// and macrobenchmark (relaxed-BFS) sweeps over one k-relaxed queue subject.
//
// Usage: relaxq-bench -subject dqrr -mode micro -enq-rate 50
//        relaxq-bench -generate-graph graph.bin -vertices 20000 -seed 1
//        relaxq-bench -subject tswd -mode macro -graph graph.bin
import (
	"flag"
	"os"
	"strconv"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"

	"github.com/grailbio/relaxq/internal/bench"
	"github.com/grailbio/relaxq/internal/graph"
	"github.com/grailbio/relaxq/internal/queue"
	"github.com/grailbio/relaxq/internal/queue/cbo"
	"github.com/grailbio/relaxq/internal/queue/dqrr"
	"github.com/grailbio/relaxq/internal/queue/tspool"
	"github.com/grailbio/relaxq/internal/queue/tswd"
	"github.com/grailbio/relaxq/internal/queue/twodd"
)

var (
	subjectFlag = flag.String("subject", "dqrr",
		"Queue under test: dqrr, dqlru, dqra, cbo, twodd, tsatomic, tsstutter, tscas, tsinterval, tswd")
	modeFlag = flag.String("mode", "micro", "Benchmark mode: micro or macro")

	widthFlag = flag.Int("width", 0,
		"Bank width (numQueue for dqrr/dqlru/dqra/cbo, grid width for twodd). 0 picks numThread*2")
	depthFlag = flag.Int("depth", 4,
		"Relaxation/probe parameter: b for dqrr family, d for cbo, depth for twodd/tswd")
	delayFlag = flag.Float64("delay", 0,
		"Busy-wait delay in microseconds: inter-op delay for microbench, and the tscas/tsinterval sampling delay")

	enqRateFlag = flag.Float64("enq-rate", 50, "Enqueue percentage for microbenchmark operations (0-100)")
	repeatFlag  = flag.Int("repeat", 3, "Number of repeats per sweep key")
	threadsFlag = flag.String("threads", "",
		"Comma-separated thread counts to sweep. Empty picks the machine's default sweep")

	scalesWithDepthFlag = flag.Bool("scales-with-depth", false,
		"Sweep the relaxation/probe depth instead of thread count, holding thread count at -fixed-threads")
	depthsFlag       = flag.String("depths", "1,2,4,8", "Comma-separated depths to sweep when -scales-with-depth is set")
	fixedThreadsFlag = flag.Int("fixed-threads", 0, "Thread count held fixed when -scales-with-depth is set")

	checkRDFlag = flag.Bool("check-relaxation-distance", false,
		"Measure relaxation distance instead of throughput (microbenchmark only)")

	graphPathFlag = flag.String("graph", "", "Path to a graph file to load for macrobenchmark mode")

	generateGraphFlag    = flag.String("generate-graph", "", "Generate a graph and write it to this path, then exit")
	generateVerticesFlag = flag.Int("vertices", 20000, "Vertex count for -generate-graph")
	generateSeedFlag     = flag.Int64("seed", 1, "RNG seed for -generate-graph")

	outFlag = flag.String("out", "", "Optional recordio result log path to append results to")
)

func parseIntList(s string) []int {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			log.Panicf("relaxq-bench: bad integer %q in %q: %v", p, s, err)
		}
		out = append(out, n)
	}
	return out
}

// newSubjectFactory returns a bench.SubjectFactory for the named subject,
// sized for either a thread-count sweep or a depth sweep depending on
// *scalesWithDepthFlag: when sweeping thread count, key is numThread and
// width/depth come from the flags; when sweeping depth, key is the
// probe/relaxation parameter itself and numThread comes from -fixed-threads.
func newSubjectFactory(name string) bench.SubjectFactory {
	widthFor := func(numThread int) int {
		if *widthFlag > 0 {
			return *widthFlag
		}
		return numThread * 2
	}

	return func(key int) queue.Queue {
		numThread, depth := key, *depthFlag
		if *scalesWithDepthFlag {
			numThread, depth = *fixedThreadsFlag, key
		}

		switch name {
		case "dqrr":
			return dqrr.New(widthFor(numThread), numThread, depth, dqrr.RoundRobin)
		case "dqlru":
			return dqrr.New(widthFor(numThread), numThread, depth, dqrr.LRU)
		case "dqra":
			return dqrr.New(widthFor(numThread), numThread, depth, dqrr.Random)
		case "cbo":
			return cbo.New(widthFor(numThread), numThread, depth)
		case "twodd":
			return twodd.New(widthFor(numThread), numThread, depth)
		case "tsatomic":
			return tspool.New(numThread, tspool.Atomic, *delayFlag)
		case "tsstutter":
			return tspool.New(numThread, tspool.Stutter, *delayFlag)
		case "tscas":
			return tspool.New(numThread, tspool.CAS, *delayFlag)
		case "tsinterval":
			return tspool.New(numThread, tspool.Interval, *delayFlag)
		case "tswd":
			return tswd.New(numThread, depth)
		default:
			log.Panicf("relaxq-bench: unknown -subject %q", name)
			return nil
		}
	}
}

func runMicro(factory bench.SubjectFactory) bench.ResultMap {
	keys := *threadsFlag
	cfg := bench.MicroSweepConfig{
		ChecksRelaxationDistance: *checkRDFlag,
		EnqRatePercent:           *enqRateFlag,
		DelayMicroseconds:        *delayFlag,
		NumRepeat:                *repeatFlag,
	}
	if *scalesWithDepthFlag {
		cfg.ScalesWithDepth = true
		cfg.FixedNumThread = *fixedThreadsFlag
		cfg.Keys = parseIntList(*depthsFlag)
	} else if keys != "" {
		cfg.Keys = parseIntList(keys)
	} else {
		cfg.Keys, _ = bench.DefaultNumThreads()
	}
	return bench.RunMicrobenchmark(cfg, factory)
}

func runMacro(factory bench.SubjectFactory, g *graph.Graph) bench.ResultMap {
	keys := *threadsFlag
	cfg := bench.MacroSweepConfig{NumRepeat: *repeatFlag}
	if *scalesWithDepthFlag {
		cfg.ScalesWithDepth = true
		cfg.FixedNumThread = *fixedThreadsFlag
		cfg.Keys = parseIntList(*depthsFlag)
	} else if keys != "" {
		cfg.Keys = parseIntList(keys)
	} else {
		cfg.Keys, _ = bench.DefaultNumThreads()
	}
	return bench.RunMacrobenchmark(cfg, factory, g)
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	shutdown := grail.Init()
	defer shutdown()

	ctx := vcontext.Background()

	if *generateGraphFlag != "" {
		g := graph.Generate(*generateVerticesFlag, *generateSeedFlag)
		if err := g.Save(ctx, *generateGraphFlag); err != nil {
			log.Panicf("relaxq-bench: save graph %v: %v", *generateGraphFlag, err)
		}
		log.Printf("relaxq-bench: wrote %d-vertex graph (shortest=%d) to %v",
			g.NumVertex(), g.ShortestDistance(), *generateGraphFlag)
		return
	}

	factory := newSubjectFactory(*subjectFlag)

	var results bench.ResultMap
	switch *modeFlag {
	case "micro":
		results = runMicro(factory)
	case "macro":
		if *graphPathFlag == "" {
			log.Panicf("relaxq-bench: -mode macro requires -graph")
		}
		g := &graph.Graph{}
		if err := g.Load(ctx, *graphPathFlag); err != nil {
			log.Panicf("relaxq-bench: load graph %v: %v", *graphPathFlag, err)
		}
		results = runMacro(factory, g)
	default:
		flag.Usage()
		os.Exit(1)
	}

	if *outFlag == "" {
		return
	}
	rl, err := bench.NewResultLog(ctx, *outFlag)
	if err != nil {
		log.Panicf("relaxq-bench: open result log %v: %v", *outFlag, err)
	}
	if err := rl.AppendAll(*subjectFlag, results); err != nil {
		log.Panicf("relaxq-bench: append result log %v: %v", *outFlag, err)
	}
	if err := rl.Close(ctx); err != nil {
		log.Panicf("relaxq-bench: close result log %v: %v", *outFlag, err)
	}
	log.Printf("relaxq-bench: wrote results to %v", *outFlag)
}
