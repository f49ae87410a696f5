package resource

import (
	"io"
	"time"

	"github.com/tphakala/audiostream/internal/decoder"
	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/jobqueue"
	"github.com/tphakala/audiostream/internal/logger"
)

// runLoadNode reads or starts decoding a node's file. An async decode stops
// after the first page and chains page jobs; a synchronous one runs to the end.
func (m *Manager) runLoadNode(j loadNodeJob) error {
	n := j.node
	if n.result.unavailable() {
		n.complete(ErrUnavailable)
		return nil
	}
	start := time.Now()

	if n.supply == supplyEncoded {
		data, err := decoder.ReadFile(m.cfg.FS, j.path)
		if err != nil {
			n.complete(err)
			return err
		}
		n.encoded = data
		n.complete(nil)
		m.log.Debug("asset loaded",
			logger.String("asset", n.name),
			logger.String("supply", n.supply.String()),
			logger.Int("bytes", len(data)),
			logger.Duration("elapsed", time.Since(start)))
		return nil
	}

	dec, err := m.registry.OpenFile(m.cfg.FS, j.path, m.cfg.decoderConfig())
	if err != nil {
		n.complete(err)
		return err
	}
	n.dec = dec
	n.format = dec.DataFormat()

	if length, lerr := dec.Length(); lerr == nil {
		bpf := uint64(n.format.BytesPerFrame())
		if !fitsInMemory(length, bpf) {
			err := errors.New(ErrOutOfMemory).
				Component(ComponentResource).
				Category(errors.CategoryOutOfMemory).
				AssetContext(n.name, length).
				Build()
			m.finishNode(n, err)
			return err
		}
		n.supply = supplyDecoded
		n.data = make([]byte, length*bpf)
		n.totalFrames.Store(length)
	} else {
		n.supply = supplyPaged
	}

	done, err := m.decodeNodePage(n)
	if err != nil || done {
		m.finishNode(n, err)
		return err
	}
	n.markInitialized()

	if !j.flags.Has(FlagAsync) {
		for {
			done, err = m.decodeNodePage(n)
			if err != nil || done {
				m.finishNode(n, err)
				return err
			}
		}
	}
	return m.postNextPage(n)
}

func (m *Manager) runPageNode(j pageNodeJob) error {
	n := j.node
	if n.result.unavailable() {
		// Freed while decoding; the free job left the decoder to us
		_ = n.closeDecoder()
		n.releaseData()
		n.complete(ErrUnavailable)
		return nil
	}
	if n.dec == nil {
		return nil
	}

	done, err := m.decodeNodePage(n)
	if err != nil || done {
		m.finishNode(n, err)
		return err
	}
	return m.postNextPage(n)
}

func (m *Manager) runFreeNode(j freeNodeJob) error {
	n := j.node
	n.result.setUnavailable()
	if n.dec == nil {
		n.releaseData()
	}
	m.log.Debug("asset node freed", logger.String("asset", n.name))
	return nil
}

func (m *Manager) postNextPage(n *assetNode) error {
	job := jobqueue.Job{Order: n.order.Reserve(), Payload: pageNodeJob{node: n}}
	if err := m.postRequired(job); err != nil {
		job.Abandon()
		m.finishNode(n, err)
		return err
	}
	return nil
}

// decodeNodePage decodes one page into the node and reports whether the
// decoder is exhausted.
func (m *Manager) decodeNodePage(n *assetNode) (bool, error) {
	frames := m.cfg.pageFrames(n.format.SampleRate)
	bpf := uint64(n.format.BytesPerFrame())

	switch n.supply {
	case supplyDecoded:
		decoded := n.decodedFrames.Load()
		total := n.totalFrames.Load()
		if decoded >= total {
			return true, nil
		}
		want := min(frames, total-decoded)
		got, err := n.dec.ReadFrames(n.data[decoded*bpf:(decoded+want)*bpf], want)
		if got > 0 {
			n.decodedFrames.Add(got)
			m.metrics.PageDecoded("node", got)
		}
		if err == io.EOF || (err == nil && got == 0) {
			// Shorter than the header claimed
			n.totalFrames.Store(decoded + got)
			return true, nil
		}
		if err != nil {
			return false, err
		}
		return decoded+got >= total, nil

	case supplyPaged:
		buf := make([]byte, frames*bpf)
		got, err := n.dec.ReadFrames(buf, frames)
		if got > 0 {
			n.appendPage(&page{frames: got, data: buf[:got*bpf]})
			m.metrics.PageDecoded("node", got)
		}
		if err == io.EOF || (err == nil && got == 0) {
			return true, nil
		}
		return false, err
	}
	return true, nil
}

// finishNode ends decoding, closing the decoder, and publishes the result.
func (m *Manager) finishNode(n *assetNode, err error) {
	if cerr := n.closeDecoder(); cerr != nil {
		m.log.Warn("failed to close decoder", logger.String("asset", n.name), logger.Error(cerr))
	}
	n.complete(err)

	if err != nil {
		m.log.Warn("asset decode failed", logger.String("asset", n.name), logger.Error(err))
		return
	}
	m.log.Debug("asset decoded",
		logger.String("asset", n.name),
		logger.String("supply", n.supply.String()),
		logger.String("format", n.format.String()),
		logger.Uint64("frames", n.decodedFrames.Load()))
}
