package transport

import (
	"regexp"
	"strings"
)

// IAC is the telnet "interpret as command" byte. A frame that starts with it
// is option negotiation, not game text.
const IAC = 0xFF

// csi matches ESC '[' parameter bytes, intermediate bytes, one final byte.
var csi = regexp.MustCompile("\x1b\\[[0-?]*[ -/]*[@-~]")

// StripANSI removes CSI sequences (colours, cursor movement). Other escape
// forms are left alone.
func StripANSI(s string) string {
	if !strings.Contains(s, "\x1b[") {
		return s
	}
	return csi.ReplaceAllString(s, "")
}

// Decode turns one inbound frame into text. Frames whose first byte is IAC
// are dropped whole and report false.
func Decode(frame []byte) (string, bool) {
	if len(frame) > 0 && frame[0] == IAC {
		return "", false
	}
	return StripANSI(strings.ToValidUTF8(string(frame), "�")), true
}
