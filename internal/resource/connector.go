package resource

import (
	"io"

	"github.com/tphakala/audiostream/internal/decoder"
)

// connector reads one buffered source's view of its node.
//
// read returns ErrBusy when the cursor has caught up with a node that is
// still decoding, and io.EOF at the end of the data.
type connector interface {
	read(dst []byte, frames uint64) (uint64, error)
	seek(frame uint64) error
	cursor() uint64
	length() (uint64, error)
	available() uint64
	format() decoder.DataFormat
	close() error
}

// endOrBusy classifies a read that found no frames. busy must have been
// sampled before the frame count the caller compared against.
func endOrBusy(n *assetNode, busy bool) error {
	if busy {
		return ErrBusy
	}
	if err := n.result.get(); err != nil {
		return err
	}
	return io.EOF
}

// encodedConnector decodes the node's encoded bytes with a private decoder.
type encodedConnector struct {
	dec decoder.Decoder
}

func (c *encodedConnector) read(dst []byte, frames uint64) (uint64, error) {
	return c.dec.ReadFrames(dst, frames)
}

func (c *encodedConnector) seek(frame uint64) error { return c.dec.Seek(frame) }
func (c *encodedConnector) cursor() uint64          { return c.dec.Cursor() }
func (c *encodedConnector) length() (uint64, error) { return c.dec.Length() }

func (c *encodedConnector) available() uint64 {
	total, err := c.dec.Length()
	if err != nil || total < c.dec.Cursor() {
		return 0
	}
	return total - c.dec.Cursor()
}

func (c *encodedConnector) format() decoder.DataFormat { return c.dec.DataFormat() }
func (c *encodedConnector) close() error               { return c.dec.Close() }

// decodedConnector reads a contiguous PCM buffer that may still be filling.
type decodedConnector struct {
	node *assetNode
	bpf  uint64
	pos  uint64
}

func (c *decodedConnector) read(dst []byte, frames uint64) (uint64, error) {
	busy := c.node.result.busy()
	avail := c.node.decodedFrames.Load()
	if c.pos >= avail {
		return 0, endOrBusy(c.node, busy)
	}

	n := min(frames, avail-c.pos)
	if dst != nil {
		copy(dst[:n*c.bpf], c.node.data[c.pos*c.bpf:(c.pos+n)*c.bpf])
	}
	c.pos += n
	return n, nil
}

// seek may move past the decoded region; reads are busy until it catches up.
func (c *decodedConnector) seek(frame uint64) error {
	c.pos = min(frame, c.node.totalFrames.Load())
	return nil
}

func (c *decodedConnector) cursor() uint64 { return c.pos }

func (c *decodedConnector) length() (uint64, error) { return c.node.length() }

func (c *decodedConnector) available() uint64 {
	avail := c.node.decodedFrames.Load()
	if avail <= c.pos {
		return 0
	}
	return avail - c.pos
}

func (c *decodedConnector) format() decoder.DataFormat { return c.node.format }
func (c *decodedConnector) close() error               { return nil }

// pagedConnector walks the linked pages of a node of unknown length.
type pagedConnector struct {
	node *assetNode
	bpf  uint64

	cur *page
	off uint64 // frames consumed from cur
	pos uint64

	// A seek beyond the decoded pages waits here until they arrive
	pending bool
	target  uint64
}

func (c *pagedConnector) read(dst []byte, frames uint64) (uint64, error) {
	busy := c.node.result.busy()
	if c.pending && !c.resolve(busy) {
		return 0, ErrBusy
	}

	var read uint64
	for read < frames {
		if c.cur == nil {
			c.cur = c.node.head.Load()
			c.off = 0
			if c.cur == nil {
				break
			}
		}
		if c.off >= c.cur.frames {
			next := c.cur.next.Load()
			if next == nil {
				break
			}
			c.cur, c.off = next, 0
			continue
		}

		n := min(frames-read, c.cur.frames-c.off)
		if dst != nil {
			copy(dst[read*c.bpf:(read+n)*c.bpf], c.cur.data[c.off*c.bpf:(c.off+n)*c.bpf])
		}
		c.off += n
		c.pos += n
		read += n
	}

	if read > 0 {
		return read, nil
	}
	return 0, endOrBusy(c.node, busy)
}

// resolve positions the cursor at target once the pages reach it, or at the
// end when decoding finished short of it.
func (c *pagedConnector) resolve(busy bool) bool {
	skip := c.target
	p := c.node.head.Load()
	if p == nil {
		if busy {
			return false
		}
		c.cur, c.off, c.pos, c.pending = nil, 0, 0, false
		return true
	}

	for {
		if skip < p.frames {
			c.cur, c.off, c.pos, c.pending = p, skip, c.target, false
			return true
		}
		skip -= p.frames
		next := p.next.Load()
		if next == nil {
			if busy && skip > 0 {
				return false
			}
			c.cur, c.off, c.pos, c.pending = p, p.frames, c.target-skip, false
			return true
		}
		p = next
	}
}

func (c *pagedConnector) seek(frame uint64) error {
	c.pending = true
	c.target = frame
	return nil
}

func (c *pagedConnector) cursor() uint64 {
	if c.pending {
		return c.target
	}
	return c.pos
}

func (c *pagedConnector) length() (uint64, error) { return c.node.length() }

func (c *pagedConnector) available() uint64 {
	avail := c.node.decodedFrames.Load()
	if avail <= c.cursor() {
		return 0
	}
	return avail - c.cursor()
}

func (c *pagedConnector) format() decoder.DataFormat { return c.node.format }
func (c *pagedConnector) close() error               { return nil }
