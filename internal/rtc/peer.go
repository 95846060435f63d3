// Package rtc wraps a Pion peer connection behind the domain.Transport
// port used by call sessions.
package rtc

import (
	"context"
	"fmt"
	"log"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"

	"github.com/santerog80-rgb/Talkio/internal/domain"
)

// DefaultICEURLs are used when no ICE servers are configured.
var DefaultICEURLs = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Peer implements domain.Transport over a Pion PeerConnection with audio
// and video transceivers in both directions.
type Peer struct {
	pc *pion.PeerConnection
}

// NewPeer creates a peer connection using iceURLs, or DefaultICEURLs when
// empty.
func NewPeer(iceURLs []string) (*Peer, error) {
	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	reg := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	reg.Add(responder)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(reg),
	)

	if len(iceURLs) == 0 {
		iceURLs = DefaultICEURLs
	}
	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers: []pion.ICEServer{{URLs: iceURLs}},
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeAudio, pion.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
			Direction: pion.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	return &Peer{pc: pc}, nil
}

// Factory returns a call.TransportFactory-compatible constructor.
func Factory(iceURLs []string) func() (domain.Transport, error) {
	return func() (domain.Transport, error) {
		return NewPeer(iceURLs)
	}
}

func (p *Peer) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *Peer) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, fmt.Errorf("set local description: %w", err)
	}
	return domain.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *Peer) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	sd := pion.SessionDescription{
		Type: pion.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}
	if err := p.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (p *Peer) AddICECandidate(ctx context.Context, cand domain.ICECandidate) error {
	index := uint16(cand.SDPMLineIndex)
	init := pion.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        &cand.SDPMid,
		SDPMLineIndex: &index,
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	return nil
}

func (p *Peer) OnICECandidate(fn func(domain.ICECandidate)) {
	p.pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			log.Printf("[rtc] ICE gathering complete")
			return
		}
		j := c.ToJSON()
		cand := domain.ICECandidate{Candidate: j.Candidate}
		if j.SDPMid != nil {
			cand.SDPMid = *j.SDPMid
		}
		if j.SDPMLineIndex != nil {
			cand.SDPMLineIndex = int(*j.SDPMLineIndex)
		}
		fn(cand)
	})
}

func (p *Peer) OnTrack(fn func(domain.TrackInfo)) {
	p.pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		log.Printf("[rtc] got track: kind=%s codec=%s", track.Kind(), codec.MimeType)
		fn(domain.TrackInfo{
			ID:       track.ID(),
			StreamID: track.StreamID(),
			Kind:     track.Kind().String(),
			Codec:    codec.MimeType,
		})

		// Keep the receive path moving for consumers that do not read
		// the track themselves.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})
}

func (p *Peer) OnConnectionStateChange(fn func(domain.TransportState)) {
	p.pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Printf("[rtc] peer connection state: %s", state)
		fn(mapState(state))
	})
}

func (p *Peer) Close() error {
	return p.pc.Close()
}

func mapState(state pion.PeerConnectionState) domain.TransportState {
	switch state {
	case pion.PeerConnectionStateConnecting:
		return domain.TransportConnecting
	case pion.PeerConnectionStateConnected:
		return domain.TransportConnected
	case pion.PeerConnectionStateDisconnected:
		return domain.TransportDisconnected
	case pion.PeerConnectionStateFailed:
		return domain.TransportFailed
	default:
		return domain.TransportClosed
	}
}
