package pairing

import "github.com/srg/cgmlink/internal/keyderiv"

// Session is the per-connection handshake state. Only the Machine's handlers mutate it.
type Session struct {
	SecretIndex int
	RandomIndex int
	RawTime     []byte
	PeerX       []byte
	PeerY       []byte
	NextTime    int
	TimeBytes   []byte
	KeyPair     *keyderiv.KeyPair
	DerivedKey  string
	Command     int
}

// Reset zeroes the session, including key material.
func (s *Session) Reset() {
	for _, b := range [][]byte{s.RawTime, s.PeerX, s.PeerY, s.TimeBytes} {
		clear(b)
	}
	*s = Session{}
}

// snapshot copies the session without the private key.
func (s *Session) snapshot() Session {
	return Session{
		SecretIndex: s.SecretIndex,
		RandomIndex: s.RandomIndex,
		RawTime:     append([]byte(nil), s.RawTime...),
		PeerX:       append([]byte(nil), s.PeerX...),
		PeerY:       append([]byte(nil), s.PeerY...),
		NextTime:    s.NextTime,
		TimeBytes:   append([]byte(nil), s.TimeBytes...),
		DerivedKey:  s.DerivedKey,
		Command:     s.Command,
	}
}
