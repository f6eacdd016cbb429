package block

import "sync"

// Collector reassembles framed blocks from an arbitrary-size byte stream
// for a single socket. Feed calls are serialized by an internal mutex, so
// several goroutines may feed it; Close must not race with Feed.
type Collector struct {
	mu  sync.Mutex
	buf []byte
	out chan *Block
}

// NewCollector creates a collector with a buffered output channel of the
// given capacity.
func NewCollector(outCap int) *Collector {
	return &Collector{out: make(chan *Block, outCap)}
}

// Out returns the channel of successfully decoded blocks. Closed when the
// collector is closed.
func (c *Collector) Out() <-chan *Block { return c.out }

// Feed appends a chunk of raw bytes and drains as many complete blocks as
// are available. A frame that fails to decode is dropped and collection
// continues with the bytes after it, so a single bad block cannot wedge the
// stream permanently; a frame without the magic bytes clears the buffer.
func (c *Collector) Feed(chunk []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = append(c.buf, chunk...)

	for {
		if len(c.buf) < 5 {
			return
		}
		size, err := ExtractLength(c.buf)
		if err != nil {
			// bad magic this early in the stream: unrecoverable framing, drop everything
			c.buf = nil
			return
		}
		if len(c.buf) < int(size) {
			return
		}
		frame := c.buf[:size]
		c.buf = c.buf[size:]

		blk, err := Decode(frame)
		if err != nil {
			continue
		}
		c.out <- blk
	}
}

// Close releases the output channel. No further Feed calls are valid after Close.
func (c *Collector) Close() {
	close(c.out)
}
