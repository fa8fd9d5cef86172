package output

import (
	"context"
	"time"
)

// Block is one fixed-size run of samples pulled from the source.
type Block struct {
	Sequence  int
	Samples   []complex64
	Timestamp time.Time
}

// SampleOutput handles blocks pulled from the source.
type SampleOutput interface {
	// Start receives a context and should run in a loop, terminating upon ctx closing or on any errors.
	Start(ctx context.Context) error
	// Receive returns a channel that receives sample blocks.
	Receive() chan<- *Block
}
