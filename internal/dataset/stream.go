package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// Sample is one pre-tokenized record from a shard. Tokens and Mask are
// parallel; a zero mask entry marks padding that carries no signal.
type Sample struct {
	Key    string `json:"key"`
	Tokens []int  `json:"tokens"`
	Mask   []int  `json:"mask"`
	Label  int    `json:"label"`
}

// maxLineBytes bounds a single JSONL record.
const maxLineBytes = 1 << 20

// StreamShard streams samples from the JSONL shard at path into out,
// stopping early if ctx is cancelled.
func StreamShard(ctx context.Context, path string, out chan<- Sample) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open shard: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(bufio.NewReader(f))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sample Sample
		if err := json.Unmarshal(line, &sample); err != nil {
			return fmt.Errorf("%s:%d: decode sample: %w", path, lineNo, err)
		}
		if len(sample.Mask) != 0 && len(sample.Mask) != len(sample.Tokens) {
			return fmt.Errorf("%s:%d: mask length %d for %d tokens",
				path, lineNo, len(sample.Mask), len(sample.Tokens))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- sample:
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read shard %s: %w", path, err)
	}
	return nil
}
