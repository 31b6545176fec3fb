package command

import (
	"fmt"
	"strconv"
	"strings"
)

// Reply is the textual answer from the vehicle, or one synthesized locally.
type Reply string

// Well-known replies.
const (
	ReplyOK             Reply = "ok"
	ReplyError          Reply = "error"
	ReplyOutOfRange     Reply = "out of range"
	ReplyInvalidCommand Reply = "invalid command"
)

// NewReply normalizes raw vehicle output: surrounding whitespace, including
// the trailing CRLF some firmware sends, is dropped.
func NewReply(raw []byte) Reply {
	return Reply(strings.TrimSpace(string(raw)))
}

func (r Reply) String() string { return string(r) }

// Outcome is the orchestrator's reading of a reply.
type Outcome int

const (
	Ok Outcome = iota
	RecoverableFailure
	UnrecoverableFailure
)

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case RecoverableFailure:
		return "recoverable"
	case UnrecoverableFailure:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// Classify maps the reply to c onto an Outcome. For land, "error" means the
// vehicle is already on the ground and counts as success.
func Classify(c Command, r Reply) Outcome {
	switch Reply(strings.ToLower(string(r))) {
	case ReplyOK:
		return Ok
	case ReplyError:
		if c.IsLand() {
			return Ok
		}
		return RecoverableFailure
	case ReplyOutOfRange, ReplyInvalidCommand:
		return UnrecoverableFailure
	default:
		return RecoverableFailure
	}
}

// ParseMeasurement extracts the integer reading from a query reply such as
// "87", "87\r\n" or "10dm". A "dm" suffix is converted to centimetres; "cm"
// and "%" suffixes are stripped.
func ParseMeasurement(r Reply) (int, error) {
	s := strings.ToLower(strings.TrimSpace(string(r)))
	scale := 1
	switch {
	case strings.HasSuffix(s, "dm"):
		s, scale = strings.TrimSuffix(s, "dm"), 10
	case strings.HasSuffix(s, "cm"):
		s = strings.TrimSuffix(s, "cm")
	case strings.HasSuffix(s, "%"):
		s = strings.TrimSuffix(s, "%")
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: reply %q is not a reading", ErrMalformed, string(r))
	}
	return n * scale, nil
}
