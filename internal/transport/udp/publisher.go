// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"moodtap/internal/analysis"
	applog "moodtap/internal/log"
	"moodtap/internal/mood"
	"moodtap/internal/transport"
)

// DefaultInterval is used when the publisher interval is not positive.
const DefaultInterval = 100 * time.Millisecond

// PacketSender delivers one datagram.
type PacketSender interface {
	Send(data []byte) error
	Close() error
}

// UDPPublisher remembers the latest feature vector and mood it was handed
// through Send and re-sends them as a binary packet on every tick. Nothing
// is sent before the first vector arrives.
type UDPPublisher struct {
	sender   PacketSender
	interval time.Duration

	ticker   *time.Ticker
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects ticker and doneChan during Start/Stop.

	latestMu   sync.Mutex
	latest     analysis.AudioFeatureVector
	mood       mood.Mood
	confidence float64
	hasLatest  bool

	sequenceNum  uint32
	values       []float32
	packetBuffer *bytes.Buffer
}

// NewUDPPublisher creates a publisher over sender.
func NewUDPPublisher(interval time.Duration, sender PacketSender) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if interval <= 0 {
		interval = DefaultInterval
		applog.Warnf("UDPPublisher: Invalid interval provided, defaulting to %s", interval)
	}

	return &UDPPublisher{
		sender:       sender,
		interval:     interval,
		mood:         mood.Neutral,
		values:       make([]float32, 0, ValueCount),
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Send records the features and mood carried by a transport.Message.
// Other payloads are ignored.
func (p *UDPPublisher) Send(data any) error {
	var msg transport.Message
	switch v := data.(type) {
	case transport.Message:
		msg = v
	case *transport.Message:
		if v == nil {
			return nil
		}
		msg = *v
	default:
		return nil
	}

	p.latestMu.Lock()
	defer p.latestMu.Unlock()
	if msg.Features != nil {
		p.latest = *msg.Features
		p.hasLatest = true
	}
	if msg.Mood.Valid() {
		p.mood = msg.Mood
		p.confidence = msg.Confidence
	}
	return nil
}

// Start begins the periodic publishing process. Calling Start on a running
// publisher is a no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		applog.Warnf("UDPPublisher: Start called but already running.")
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	ticker := p.ticker
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		applog.Debugf("UDPPublisher: Publisher goroutine started (Interval: %s)", p.interval)
		for {
			select {
			case <-ticker.C:
				p.buildAndSendPacket(time.Now())
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the publisher goroutine to terminate and waits for it to exit.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Debugf("UDPPublisher: Publisher goroutine finished after %d packets.", p.sequenceNum)
	return nil
}

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Mood              | uint8          | 1            | Committed mood index    |
| Confidence        | float32        | 4            | Confidence of the mood  |
| Value Count       | uint16         | 2            | Number of floats (N)    |
| Values            | []float32      | N * 4        | Feature vector fields   |
+-----------------------------------------------------------------------------+

Values are ordered as tempo, energy, valence, danceability, acousticness,
instrumentalness, speechiness, liveness, followed by the spectral set in
declaration order.
*/

const headerSize = 4 + 8 + 1 + 4 + 2

// ValueCount is the number of floats in a packet built from a full vector.
const ValueCount = 8 + 17

// buildAndSendPacket packs the latest vector and sends it.
func (p *UDPPublisher) buildAndSendPacket(now time.Time) {
	p.latestMu.Lock()
	if !p.hasLatest {
		p.latestMu.Unlock()
		return
	}
	p.values = appendVector(p.values[:0], p.latest)
	m, confidence := p.mood, p.confidence
	p.latestMu.Unlock()

	p.sequenceNum++
	p.packetBuffer.Reset()
	err := writePacket(p.packetBuffer, Packet{
		Sequence:   p.sequenceNum,
		Timestamp:  now.UnixNano(),
		Mood:       m,
		Confidence: float32(confidence),
		Values:     p.values,
	})
	if err != nil {
		applog.Errorf("UDPPublisher: Error packing data into binary buffer: %v", err)
		return
	}

	packetBytes := p.packetBuffer.Bytes()
	if err := p.sender.Send(packetBytes); err == nil {
		applog.Debugf("UDPPublisher: Sent packet %d (%d bytes)", p.sequenceNum, len(packetBytes))
	}
}

// Close stops the publisher and closes the sender.
func (p *UDPPublisher) Close() error {
	return errors.Join(p.Stop(), p.sender.Close())
}

var _ transport.Transport = (*UDPPublisher)(nil)

// Packet is the decoded form of one datagram.
type Packet struct {
	Sequence   uint32
	Timestamp  int64
	Mood       mood.Mood
	Confidence float32
	Values     []float32
}

func writePacket(buf *bytes.Buffer, pkt Packet) error {
	err := binary.Write(buf, binary.BigEndian, pkt.Sequence)
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, pkt.Timestamp)
	}
	if err == nil {
		err = buf.WriteByte(uint8(pkt.Mood))
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, pkt.Confidence)
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, uint16(len(pkt.Values)))
	}
	if err == nil {
		err = binary.Write(buf, binary.BigEndian, pkt.Values)
	}
	return err
}

// DecodePacket parses a datagram produced by UDPPublisher.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) < headerSize {
		return Packet{}, fmt.Errorf("packet too short: %d bytes", len(b))
	}
	pkt := Packet{
		Sequence:   binary.BigEndian.Uint32(b[0:4]),
		Timestamp:  int64(binary.BigEndian.Uint64(b[4:12])),
		Mood:       mood.Mood(b[12]),
		Confidence: math.Float32frombits(binary.BigEndian.Uint32(b[13:17])),
	}
	n := int(binary.BigEndian.Uint16(b[17:19]))
	if len(b) != headerSize+4*n {
		return Packet{}, fmt.Errorf("packet declares %d values but carries %d bytes", n, len(b)-headerSize)
	}
	if !pkt.Mood.Valid() {
		return Packet{}, fmt.Errorf("packet carries unknown mood %d", b[12])
	}
	pkt.Values = make([]float32, n)
	for i := range pkt.Values {
		off := headerSize + 4*i
		pkt.Values[i] = math.Float32frombits(binary.BigEndian.Uint32(b[off : off+4]))
	}
	return pkt, nil
}

func appendVector(dst []float32, v analysis.AudioFeatureVector) []float32 {
	s := v.Spectral
	for _, f := range [...]float64{
		v.Tempo, v.Energy, v.Valence, v.Danceability,
		v.Acousticness, v.Instrumentalness, v.Speechiness, v.Liveness,
		s.Centroid, s.Spread, s.Rolloff, s.Flux, s.Flatness,
		s.Bass, s.Mid, s.Treble, s.Brightness, s.ZeroCrossingRate,
		s.Crest, s.Irregularity, s.Skewness, s.Kurtosis,
		s.HarmonicRatio, s.SpectralContrast, s.DynamicRange,
	} {
		dst = append(dst, float32(f))
	}
	return dst
}
