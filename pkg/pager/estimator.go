package pager

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator estimates the token cost of a piece of text. Spec.md
// E1–E3 only require a monotonic, bounded-per-character function; we use
// a real tokenizer (adapted from the teacher's pkg/utils.TokenCounter) but
// fall back to a words*1.3 heuristic if the encoding can't be loaded, which
// keeps the estimator usable offline/in tests without network access.
type TokenEstimator interface {
	Estimate(content string) int
}

// tiktokenEstimator wraps a cached cl100k_base encoding.
type tiktokenEstimator struct {
	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
}

var (
	sharedEncoding     *tiktoken.Tiktoken
	sharedEncodingOnce sync.Once
)

// NewTokenEstimator returns the default TokenEstimator, attempting to load
// the cl100k_base tiktoken encoding once per process and reusing it.
func NewTokenEstimator() TokenEstimator {
	sharedEncodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			sharedEncoding = enc
		}
	})
	if sharedEncoding == nil {
		return heuristicEstimator{}
	}
	return &tiktokenEstimator{encoding: sharedEncoding}
}

func (e *tiktokenEstimator) Estimate(content string) int {
	if content == "" {
		return 0 // E2
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.encoding.Encode(content, nil, nil))
}

// heuristicEstimator implements E1-E3 with a cheap words*1.3 approximation,
// used when the tiktoken vocabulary can't be loaded (e.g. offline tests).
type heuristicEstimator struct{}

func (heuristicEstimator) Estimate(content string) int {
	if content == "" {
		return 0
	}
	words := 0
	inWord := false
	for _, r := range content {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
	}
	if words == 0 {
		words = 1
	}
	return int(float64(words)*1.3) + 1
}
