package mp

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/heatgun/hg/internal/net/packet"
	"golang.org/x/text/unicode/norm"
)

// MaxUsernameLen is counted in runes after NFC normalization.
const MaxUsernameLen = 32

// ProtocolErrorGoodbye is the goodbye sent when a peer breaks the protocol.
var ProtocolErrorGoodbye = []byte("protocol error")

var ErrBadHello = errors.New("mp: malformed hello")

// Hello is the first server-bound packet of every session.
type Hello struct {
	Username string
	Style    uint8
}

func (h Hello) Encode(w *packet.Writer) {
	w.WriteS(h.Username)
	w.WriteC(h.Style)
}

func DecodeHello(b []byte) (Hello, error) {
	r := packet.NewReader(b)
	h := Hello{Username: r.ReadS(), Style: r.ReadC()}
	if err := r.Finish(); err != nil {
		return Hello{}, fmt.Errorf("%w: %w", ErrBadHello, err)
	}
	h.Username = norm.NFC.String(h.Username)
	if n := utf8.RuneCountInString(h.Username); n == 0 || n > MaxUsernameLen {
		return Hello{}, fmt.Errorf("%w: username length %d", ErrBadHello, n)
	}
	return h, nil
}
