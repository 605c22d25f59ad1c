// SPDX-License-Identifier: MIT
package udp

import (
	"net"
	"sync"
	"testing"
	"time"

	"moodtap/internal/analysis"
	"moodtap/internal/mood"
	"moodtap/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu      sync.Mutex
	packets [][]byte
	closed  bool
}

func (s *recordingSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packets = append(s.packets, append([]byte(nil), data...))
	return nil
}

func (s *recordingSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

func testVector() analysis.AudioFeatureVector {
	return analysis.AudioFeatureVector{
		Tempo:        128,
		Energy:       0.75,
		Valence:      0.5,
		Danceability: 0.25,
		Liveness:     0.125,
		Spectral: analysis.SpectralFeatureSet{
			Centroid:      1500,
			DynamicRange:  0.5,
			HarmonicRatio: 0.875,
		},
	}
}

func TestPublisherPacketLayout(t *testing.T) {
	sender := new(recordingSender)
	p, err := NewUDPPublisher(time.Second, sender)
	require.NoError(t, err)

	v := testVector()
	require.NoError(t, p.Send(transport.Message{
		Kind:       transport.KindFeatures,
		Mood:       mood.Energetic,
		Confidence: 0.5,
		Features:   &v,
	}))

	now := time.Unix(1700000000, 42)
	p.buildAndSendPacket(now)
	p.buildAndSendPacket(now)
	require.Equal(t, 2, sender.count())

	raw := sender.packets[1]
	assert.Len(t, raw, headerSize+4*ValueCount)

	pkt, err := DecodePacket(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), pkt.Sequence)
	assert.Equal(t, now.UnixNano(), pkt.Timestamp)
	assert.Equal(t, mood.Energetic, pkt.Mood)
	assert.Equal(t, float32(0.5), pkt.Confidence)
	require.Len(t, pkt.Values, ValueCount)
	assert.Equal(t, float32(128), pkt.Values[0])
	assert.Equal(t, float32(0.75), pkt.Values[1])
	assert.Equal(t, float32(0.125), pkt.Values[7])
	assert.Equal(t, float32(1500), pkt.Values[8])
	assert.Equal(t, float32(0.875), pkt.Values[22])
	assert.Equal(t, float32(0.5), pkt.Values[24])
}

func TestPublisherWaitsForFirstVector(t *testing.T) {
	sender := new(recordingSender)
	p, err := NewUDPPublisher(time.Second, sender)
	require.NoError(t, err)

	// A mood change without features does not make a packet.
	require.NoError(t, p.Send(transport.Message{Kind: transport.KindMoodChange, Mood: mood.Angry, Confidence: 0.8}))
	require.NoError(t, p.Send("ignored"))
	p.buildAndSendPacket(time.Now())
	assert.Zero(t, sender.count())

	v := testVector()
	require.NoError(t, p.Send(&transport.Message{Features: &v, Mood: mood.Mood(-1)}))
	p.buildAndSendPacket(time.Now())
	require.Equal(t, 1, sender.count())

	pkt, err := DecodePacket(sender.packets[0])
	require.NoError(t, err)
	assert.Equal(t, mood.Angry, pkt.Mood)
	assert.InDelta(t, 0.8, pkt.Confidence, 1e-6)
}

func TestPublisherStartStop(t *testing.T) {
	sender := new(recordingSender)
	p, err := NewUDPPublisher(5*time.Millisecond, sender)
	require.NoError(t, err)

	v := testVector()
	require.NoError(t, p.Send(transport.Message{Features: &v}))

	p.Start()
	p.Start()
	assert.Eventually(t, func() bool { return sender.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	n := sender.count()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, sender.count())

	require.NoError(t, p.Close())
	assert.True(t, sender.closed)
}

func TestNewPublisherValidation(t *testing.T) {
	_, err := NewUDPPublisher(time.Second, nil)
	assert.Error(t, err)

	p, err := NewUDPPublisher(0, new(recordingSender))
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, p.interval)
}

func TestDecodePacketRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"short", make([]byte, headerSize-1)},
		{"count mismatch", append(make([]byte, headerSize-2), 0, 3)},
		{"unknown mood", func() []byte {
			b := make([]byte, headerSize)
			b[12] = 200
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePacket(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestUDPSenderLoopback(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	sender, err := NewUDPSender(conn.LocalAddr().String())
	require.NoError(t, err)

	p, err := NewUDPPublisher(time.Second, sender)
	require.NoError(t, err)
	v := testVector()
	require.NoError(t, p.Send(transport.Message{Features: &v, Mood: mood.Focused, Confidence: 0.7}))
	p.buildAndSendPacket(time.Now())

	buf := make([]byte, 1500)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)

	pkt, err := DecodePacket(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, mood.Focused, pkt.Mood)
	assert.Equal(t, float32(128), pkt.Values[0])

	require.NoError(t, p.Close())
	assert.Error(t, sender.Send([]byte{1}))
	assert.NoError(t, sender.Close())
}

func TestUDPSenderBadAddress(t *testing.T) {
	_, err := NewUDPSender("not an address")
	assert.Error(t, err)
}
