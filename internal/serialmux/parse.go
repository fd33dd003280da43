package serialmux

import "strings"

// Reply is the coarse class of a line sent back by an AT-style device.
type Reply int

const (
	ReplyUnknown Reply = iota
	ReplyOK
	ReplyError
	// ReplyPrompt is the modem's "> " request for message text.
	ReplyPrompt
)

func (r Reply) String() string {
	switch r {
	case ReplyOK:
		return "ok"
	case ReplyError:
		return "error"
	case ReplyPrompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// ClassifyReply inspects one line from the relay board or modem.
func ClassifyReply(line string) Reply {
	l := strings.ToUpper(strings.TrimSpace(line))
	switch {
	case l == "OK":
		return ReplyOK
	case l == ">" || strings.HasPrefix(line, "> "):
		return ReplyPrompt
	case l == "ERROR", l == "ERR",
		strings.HasPrefix(l, "+CMS ERROR"), strings.HasPrefix(l, "+CME ERROR"),
		strings.HasPrefix(l, "ERR "):
		return ReplyError
	default:
		return ReplyUnknown
	}
}
