package output

import (
	"bufio"
	"context"
	"encoding/binary"
	"io"
)

const blockBufferLength int = 8

// FileOutput writes samples as little-endian interleaved float32 I/Q, the
// format the file device plays back.
type FileOutput struct {
	dest     io.Writer
	recvChan chan *Block
}

func NewFileOutput(dest io.Writer) *FileOutput {
	return &FileOutput{
		dest:     dest,
		recvChan: make(chan *Block, blockBufferLength),
	}
}

func (f *FileOutput) Receive() chan<- *Block {
	return f.recvChan
}

func (f *FileOutput) Start(ctx context.Context) error {
	w := bufio.NewWriterSize(f.dest, 1<<20)
	defer w.Flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-f.recvChan:
			if err := binary.Write(w, binary.LittleEndian, b.Samples); err != nil {
				return err
			}
			// Flush once the queue drains so readers see whole blocks.
			if len(f.recvChan) == 0 {
				if err := w.Flush(); err != nil {
					return err
				}
			}
		}
	}
}
