package meltdown

import (
	"testing"
)

func TestSampleLine_IsPermutation(t *testing.T) {
	seen := make(map[byte]int)
	inOrder := true

	for i := 0; i < NumLines; i++ {
		line := sampleLine(i)
		if prev, hasIt := seen[line]; hasIt {
			t.Fatalf("line %d visited by sample %d and %d", line, prev, i)
		}
		seen[line] = i

		if int(line) != i {
			inOrder = false
		}
	}

	if len(seen) != NumLines {
		t.Fatalf("expected %d lines - got %d", NumLines, len(seen))
	}

	if inOrder {
		t.Fatal("lines are visited in index order")
	}
}

func TestVoteSignal_Record(t *testing.T) {
	s := NewVoteSignal(100)

	s.Record(0x41, 99)
	s.Record(0x41, 100)
	s.Record(0x42, 500)

	if s.Votes(0x41) != 1 {
		t.Fatalf("expected 1 vote - got %d", s.Votes(0x41))
	}

	if s.Votes(0x42) != 0 {
		t.Fatalf("expected 0 votes - got %d", s.Votes(0x42))
	}
}

func TestVoteSignal_Decode_SpuriousVotes(t *testing.T) {
	s := NewVoteSignal(100)
	s.AddVotes(0x41, 10)

	for line := 0x10; line < 0x20; line++ {
		s.AddVotes(byte(line), 9)
	}
	s.AddVotes(0xff, 9)
	s.AddVotes(0x00, 3)

	res := s.Decode()
	if res.Value != 0x41 {
		t.Fatalf("expected 0x41 - got 0x%02x", res.Value)
	}

	if res.Score != 10 {
		t.Fatalf("expected score 10 - got %d", res.Score)
	}

	if res.RunnerUp != 0x10 || res.RunnerUpScore != 9 {
		t.Fatalf("expected runner up 0x10 with 9 votes - got 0x%02x with %d",
			res.RunnerUp, res.RunnerUpScore)
	}

	if res.Clear() {
		t.Fatal("10 votes against 9 should not be clear")
	}
}

func TestVoteSignal_Decode_TieGoesToLowestLine(t *testing.T) {
	s := NewVoteSignal(100)
	s.AddVotes(0x80, 5)
	s.AddVotes(0x20, 5)
	s.AddVotes(0xf0, 5)

	res := s.Decode()
	if res.Value != 0x20 {
		t.Fatalf("expected 0x20 - got 0x%02x", res.Value)
	}

	if res.RunnerUp != 0x80 {
		t.Fatalf("expected runner up 0x80 - got 0x%02x", res.RunnerUp)
	}
}

func TestVoteSignal_Decode_Empty(t *testing.T) {
	res := NewVoteSignal(100).Decode()
	if res.Value != 0 || res.Score != 0 {
		t.Fatalf("expected 0x00 with no votes - got %s", res)
	}
}

func TestVoteSignal_Decode_Deterministic(t *testing.T) {
	fill := func(s *VoteSignal) {
		for i := 0; i < NumLines; i++ {
			s.AddVotes(byte(i), uint64((i*37)%11))
		}
	}

	a := NewVoteSignal(100)
	fill(a)
	first := a.Decode()

	for i := 0; i < 10; i++ {
		if res := a.Decode(); res != first {
			t.Fatalf("decode %d: expected %s - got %s", i, first, res)
		}
	}

	// A signal that decoded something else before must agree
	// once it holds the same observations.
	b := NewVoteSignal(100)
	b.AddVotes(0x99, 1000)
	b.Decode()
	b.Reset()
	fill(b)

	if res := b.Decode(); res != first {
		t.Fatalf("expected %s - got %s", first, res)
	}
}

func TestSumSignal_Decode_FirstLineBelowLimit(t *testing.T) {
	s := NewSumSignal(100)

	const rounds = 4
	for r := 0; r < rounds; r++ {
		for i := 0; i < NumLines; i++ {
			latency := uint64(240)
			switch i {
			case 0x05:
				latency = 90
			case 0x07:
				latency = 40
			}
			s.Record(byte(i), latency)
		}
		s.EndRound()
	}

	res := s.Decode()
	if res.Value != 0x05 {
		t.Fatalf("expected 0x05 - got 0x%02x", res.Value)
	}

	if res.Score != rounds*100-rounds*90 {
		t.Fatalf("expected score %d - got %d", rounds*100-rounds*90, res.Score)
	}

	if res.RunnerUp != 0x07 {
		t.Fatalf("expected runner up 0x07 - got 0x%02x", res.RunnerUp)
	}
}

func TestSumSignal_Decode_NoneBelowLimit(t *testing.T) {
	s := NewSumSignal(100)

	for i := 0; i < NumLines; i++ {
		latency := uint64(300)
		if i == 0xc8 || i == 0xd0 {
			latency = 150
		}
		s.Record(byte(i), latency)
	}
	s.EndRound()

	res := s.Decode()
	if res.Value != 0xc8 {
		t.Fatalf("expected 0xc8 - got 0x%02x", res.Value)
	}

	if res.Score != 0 {
		t.Fatalf("expected score 0 - got %d", res.Score)
	}
}

func TestSumSignal_Reset(t *testing.T) {
	s := NewSumSignal(100)
	s.Record(1, 10)
	s.EndRound()
	s.Reset()

	if s.Sum(1) != 0 || s.rounds != 0 {
		t.Fatalf("expected empty signal - got sum %d after %d rounds", s.Sum(1), s.rounds)
	}
}

func TestParseDecodePolicy(t *testing.T) {
	for _, policy := range []DecodePolicy{MajorityVote, CumulativeSum} {
		res, err := ParseDecodePolicy(policy.String())
		if err != nil {
			t.Fatal(err)
		}

		if res != policy {
			t.Fatalf("expected %s - got %s", policy, res)
		}
	}

	_, err := ParseDecodePolicy("single")
	if err == nil {
		t.Fatal("expected an error")
	}
}
