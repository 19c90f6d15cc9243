// Package assemble builds the bounded-size modeling dataset: it consumes
// enriched batches one at a time, samples rows, and appends them to a single
// output artifact. Only the current batch and the open sink are ever resident.
//
// Sampling is stratified by meter type so a low rate can never silently drop
// an entire meter type that had at least one input row. Within a stratum the
// policy is:
//
//   - unseeded: keep every ⌈1/rate⌉-th row, counting across batches. This is
//     fully deterministic and reproducible with no randomness.
//   - seeded: keep each row independently with probability rate, from a PCG
//     stream seeded by the configured value; the first row of every stratum
//     is always kept to preserve coverage.
package assemble

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/meterflow/meterflow/pkg/meter"
)

// Sink receives sampled rows. One Append call carries one batch's sample as
// an atomic unit; the assembler is the sink's only writer.
type Sink interface {
	Append(rows []meter.EnrichedReading) error
}

// Assembler samples enriched batches into a single append-only dataset.
// It is not safe for concurrent use: upstream parallelism must funnel batches
// through one assembler.
type Assembler struct {
	sink Sink
	rate float64
	rng  *rand.Rand

	interval int
	counters map[meter.MeterType]int

	rowsIn   int
	rowsKept int
}

// New creates an assembler using the deterministic stride policy.
// rate must be in (0, 1].
func New(sink Sink, rate float64) (*Assembler, error) {
	if rate <= 0 || rate > 1 {
		return nil, fmt.Errorf("sample rate must be in (0, 1], got %v", rate)
	}
	return &Assembler{
		sink:     sink,
		rate:     rate,
		interval: int(math.Ceil(1 / rate)),
		counters: make(map[meter.MeterType]int),
	}, nil
}

// NewSeeded creates an assembler using seeded Bernoulli sampling.
func NewSeeded(sink Sink, rate float64, seed uint64) (*Assembler, error) {
	a, err := New(sink, rate)
	if err != nil {
		return nil, err
	}
	a.rng = rand.New(rand.NewPCG(seed, seed))
	return a, nil
}

// Consume samples one batch and appends the kept rows to the sink. Rows are
// appended in input order and never rewritten.
func (a *Assembler) Consume(batch []meter.EnrichedReading) error {
	kept := make([]meter.EnrichedReading, 0, int(float64(len(batch))*a.rate)+1)

	for _, row := range batch {
		n := a.counters[row.Meter]
		a.counters[row.Meter] = n + 1
		a.rowsIn++

		if a.keep(n) {
			kept = append(kept, row)
			a.rowsKept++
		}
	}

	if len(kept) == 0 {
		return nil
	}
	if err := a.sink.Append(kept); err != nil {
		return fmt.Errorf("append sampled batch: %w", err)
	}
	return nil
}

// keep decides whether the n-th row of a stratum is sampled.
func (a *Assembler) keep(n int) bool {
	if a.rng != nil {
		// First row of a stratum is always kept so every meter type that
		// appears in the input appears in the output.
		return n == 0 || a.rng.Float64() < a.rate
	}
	return n%a.interval == 0
}

// Stats reports rows consumed and rows kept so far.
func (a *Assembler) Stats() (in, kept int) {
	return a.rowsIn, a.rowsKept
}
