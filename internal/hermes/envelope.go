package hermes

import (
	"fmt"
)

// Envelope is a decoded multi-frame message: the routing trail accumulated
// across hops followed by a single body frame. On the wire the trail and the
// body are separated by one empty frame:
//
//	[identity]... [""] [body]
//
// Identity frames assigned by ROUTER sockets are never empty, which is what
// makes the first empty frame an unambiguous delimiter.
type Envelope struct {
	Trail [][]byte
	Body  []byte
}

// NewEnvelope builds an envelope from a trail and a body, copying both
func NewEnvelope(trail [][]byte, body []byte) *Envelope {
	return &Envelope{
		Trail: copyTrail(trail),
		Body:  append([]byte(nil), body...),
	}
}

// Decode splits raw frames into a routing trail and a body. It fails with
// ErrMalformedMessage when there is no empty delimiter or when anything other
// than exactly one body frame follows it.
func Decode(frames [][]byte) (*Envelope, error) {
	delimiter := -1
	for i, frame := range frames {
		if len(frame) == 0 {
			delimiter = i
			break
		}
	}

	if delimiter < 0 {
		return nil, fmt.Errorf("%w: missing empty delimiter in %d frames", ErrMalformedMessage, len(frames))
	}
	if len(frames) != delimiter+2 {
		return nil, fmt.Errorf("%w: expected 1 body frame, got %d", ErrMalformedMessage, len(frames)-delimiter-1)
	}

	return NewEnvelope(frames[:delimiter], frames[delimiter+1]), nil
}

// Encode produces the frames that route body back through trail. An empty
// hop would read back as the delimiter, so it is rejected with
// ErrMalformedMessage.
func Encode(trail [][]byte, body []byte) ([][]byte, error) {
	for i, hop := range trail {
		if len(hop) == 0 {
			return nil, fmt.Errorf("%w: empty hop at trail position %d", ErrMalformedMessage, i)
		}
	}
	return encode(trail, body), nil
}

func encode(trail [][]byte, body []byte) [][]byte {
	frames := make([][]byte, 0, len(trail)+2)
	for _, hop := range trail {
		frames = append(frames, append([]byte(nil), hop...))
	}
	frames = append(frames, []byte{})
	frames = append(frames, append([]byte(nil), body...))
	return frames
}

// Frames encodes the envelope. Its trail must hold no empty hop, which holds
// for anything produced by Decode and for Push of a ROUTER identity.
func (e *Envelope) Frames() [][]byte {
	return encode(e.Trail, e.Body)
}

// Push returns a copy of the envelope with identity prepended to the trail
func (e *Envelope) Push(identity []byte) *Envelope {
	trail := make([][]byte, 0, len(e.Trail)+1)
	trail = append(trail, identity)
	trail = append(trail, e.Trail...)
	return NewEnvelope(trail, e.Body)
}

// Pop strips the outermost hop, returning it together with the rest of the
// envelope. ok is false when the trail is empty.
func (e *Envelope) Pop() (identity []byte, rest *Envelope, ok bool) {
	if len(e.Trail) == 0 {
		return nil, e, false
	}
	return append([]byte(nil), e.Trail[0]...), NewEnvelope(e.Trail[1:], e.Body), true
}

// Sender returns the outermost identity as a string, or "" without a trail
func (e *Envelope) Sender() string {
	if len(e.Trail) == 0 {
		return ""
	}
	return string(e.Trail[0])
}

func copyTrail(trail [][]byte) [][]byte {
	out := make([][]byte, len(trail))
	for i, hop := range trail {
		out[i] = append([]byte(nil), hop...)
	}
	return out
}
