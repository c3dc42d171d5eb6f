package ingest

import (
	"context"
	"crawlytics/internal/crawler"
	"crawlytics/internal/metrics"
	"crawlytics/internal/parser"
	"crawlytics/internal/types"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrFormatUndetected means no sample line matched a known format
	ErrFormatUndetected = errors.New("unable to detect log format")
	// ErrWorkerFailure means a chunk worker crashed and the job was aborted
	ErrWorkerFailure = errors.New("chunk worker failed")
)

const (
	DefaultChunkSize   = 10000
	DefaultSampleLines = 100
)

// Options tune one Process run. Zero values pick the defaults.
type Options struct {
	ChunkSize   int
	Workers     int
	SampleLines int
	// Format skips detection and forces a variant by name
	Format string
	// JobID is stamped on every produced entry
	JobID  string
	Logger *logrus.Entry
}

type lineParser interface {
	ParseLine(line string) *types.LogEntry
}

type chunk struct {
	index int
	lines []string
}

// Processor parses one file in parallel chunks against a fixed registry
type Processor struct {
	registry *crawler.Registry
	opts     Options
	log      *logrus.Entry

	newParser func(parser.Variant, parser.Classifier) lineParser
}

// NewProcessor creates a processor bound to a registry snapshot
func NewProcessor(registry *crawler.Registry, opts Options) *Processor {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Workers <= 0 {
		opts.Workers = max(runtime.NumCPU()-1, 1)
	}
	if opts.SampleLines <= 0 {
		opts.SampleLines = DefaultSampleLines
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Processor{
		registry: registry,
		opts:     opts,
		log:      logger.WithField("component", "ingest"),
		newParser: func(v parser.Variant, c parser.Classifier) lineParser {
			return parser.New(v, c)
		},
	}
}

// Detect samples the head of a file and returns the variant to parse it with
func (p *Processor) Detect(ctx context.Context, path string) (parser.Variant, error) {
	sample, err := ReadSample(ctx, path, p.opts.SampleLines)
	if err != nil {
		return nil, err
	}
	if len(sample) == 0 {
		return nil, nil
	}
	return p.resolveVariant(sample)
}

func (p *Processor) resolveVariant(sample []string) (parser.Variant, error) {
	if p.opts.Format != "" {
		v, ok := parser.VariantByName(p.opts.Format)
		if !ok {
			return nil, fmt.Errorf("unknown log format %q", p.opts.Format)
		}
		return v, nil
	}

	name := parser.NewDetector().Detect(sample)
	if name == "" {
		return nil, fmt.Errorf("%w: none of the first %d lines matched", ErrFormatUndetected, len(sample))
	}
	v, _ := parser.VariantByName(name)
	return v, nil
}

// Process parses the file at path and returns the entries accepted as
// crawler traffic. Entries within a chunk keep file order. On error the
// returned stats cover whatever was read before the failure.
func (p *Processor) Process(ctx context.Context, path string) ([]types.LogEntry, types.ProcessingStats, error) {
	start := time.Now()
	var stats types.ProcessingStats

	variant, err := p.Detect(ctx, path)
	if err != nil {
		stats = computeStats(0, 0, 0, time.Since(start))
		return nil, stats, err
	}
	if variant == nil {
		p.log.WithField("file", path).Info("Empty file, nothing to process")
		return nil, computeStats(0, 0, 0, time.Since(start)), nil
	}

	log := p.log.WithFields(logrus.Fields{"file": path, "format": variant.Name()})
	log.Debug("Format detected")

	var (
		mu      sync.Mutex
		results = make(map[int][]types.LogEntry)
		total   int
		nchunks int
	)

	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan chunk)

	// Reader: split the file into sequential chunks
	g.Go(func() error {
		defer close(chunks)

		r := NewFileReader(path)
		lines, err := r.Start(gctx)
		if err != nil {
			return err
		}

		send := func(buf []string) error {
			select {
			case chunks <- chunk{index: nchunks, lines: buf}:
				mu.Lock()
				total += len(buf)
				nchunks++
				mu.Unlock()
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		buf := make([]string, 0, p.opts.ChunkSize)
		for line := range lines {
			buf = append(buf, line)
			if len(buf) == p.opts.ChunkSize {
				if err := send(buf); err != nil {
					return err
				}
				buf = make([]string, 0, p.opts.ChunkSize)
			}
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		if len(buf) > 0 {
			if err := send(buf); err != nil {
				return err
			}
		}
		return r.Wait()
	})

	for i := 0; i < p.opts.Workers; i++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrWorkerFailure, r)
				}
			}()

			lp := p.newParser(variant, p.registry)
			for {
				select {
				case c, ok := <-chunks:
					if !ok {
						return nil
					}
					out := p.processChunk(lp, c.lines)
					mu.Lock()
					results[c.index] = out
					mu.Unlock()
				case <-gctx.Done():
					return gctx.Err()
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		mu.Lock()
		stats = computeStats(total, 0, nchunks, time.Since(start))
		mu.Unlock()
		stats.Format = variant.Name()
		log.WithError(err).Error("Processing aborted")
		return nil, stats, err
	}

	entries := merge(results)
	stats = computeStats(total, len(entries), nchunks, time.Since(start))
	stats.Format = variant.Name()

	log.WithFields(logrus.Fields{
		"total_lines": stats.TotalLines,
		"matches":     stats.LLMMatches,
		"chunks":      stats.Chunks,
		"elapsed":     stats.ProcessingTimeSeconds,
	}).Info("Processing finished")

	return entries, stats, nil
}

// processChunk keeps the parsed entries the registry counts as crawlers
func (p *Processor) processChunk(lp lineParser, lines []string) []types.LogEntry {
	var out []types.LogEntry
	for _, line := range lines {
		entry := lp.ParseLine(line)
		if entry == nil {
			continue
		}
		if !p.registry.IsCrawler(entry.UserAgent) {
			continue
		}
		entry.LogFileID = p.opts.JobID
		out = append(out, *entry)
	}

	metrics.LinesProcessed.Add(float64(len(lines)))
	metrics.CrawlerMatches.Add(float64(len(out)))
	return out
}

// merge concatenates chunk outputs in chunk order
func merge(results map[int][]types.LogEntry) []types.LogEntry {
	keys := make([]int, 0, len(results))
	n := 0
	for k, v := range results {
		keys = append(keys, k)
		n += len(v)
	}
	sort.Ints(keys)

	out := make([]types.LogEntry, 0, n)
	for _, k := range keys {
		out = append(out, results[k]...)
	}
	return out
}

func computeStats(total, matches, chunks int, elapsed time.Duration) types.ProcessingStats {
	s := types.ProcessingStats{
		TotalLines:            total,
		LLMMatches:            matches,
		ProcessingTimeSeconds: elapsed.Seconds(),
		Chunks:                chunks,
	}
	if total > 0 {
		s.MatchPercentage = float64(matches) / float64(total) * 100
	}
	if s.ProcessingTimeSeconds > 0 {
		s.LinesPerSecond = float64(total) / s.ProcessingTimeSeconds
	}
	return s
}
