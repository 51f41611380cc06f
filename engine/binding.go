package engine

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ProtocolSequence names a transport.
type ProtocolSequence string

const (
	// ProtocolLocal is the in-process transport.
	ProtocolLocal ProtocolSequence = "ncalrpc"
	// ProtocolNATS carries PDUs as NATS request/reply messages. The network
	// address is the NATS server URL.
	ProtocolNATS ProtocolSequence = "ncacn_nats"
)

func (p ProtocolSequence) String() string { return string(p) }

// StringBinding is a parsed string binding of the form
//
//	[object-uuid@]protseq:[network-address][endpoint[,option=value...]]
type StringBinding struct {
	Object         uuid.UUID
	Protseq        ProtocolSequence
	NetworkAddress string
	Endpoint       string
	Options        map[string]string
}

// ParseStringBinding parses s. It reports StatusInvalidStringBinding for
// malformed input; whether the protocol sequence is supported is decided
// when a transport is looked up.
func ParseStringBinding(s string) (StringBinding, error) {
	var sb StringBinding
	rest := strings.TrimSpace(s)

	if at := strings.IndexByte(rest, '@'); at >= 0 && at < strings.IndexByte(rest, ':') {
		id, err := uuid.Parse(rest[:at])
		if err != nil {
			return sb, bindError(StatusInvalidStringBinding, fmt.Sprintf("object uuid in %q", s), err)
		}
		sb.Object = id
		rest = rest[at+1:]
	}

	colon := strings.IndexByte(rest, ':')
	if colon <= 0 {
		return sb, bindError(StatusInvalidStringBinding, fmt.Sprintf("missing protocol sequence in %q", s), nil)
	}
	sb.Protseq = ProtocolSequence(rest[:colon])
	rest = rest[colon+1:]

	if open := strings.LastIndexByte(rest, '['); open >= 0 {
		if !strings.HasSuffix(rest, "]") {
			return sb, bindError(StatusInvalidStringBinding, fmt.Sprintf("unterminated endpoint in %q", s), nil)
		}
		inner := rest[open+1 : len(rest)-1]
		rest = rest[:open]
		parts := strings.Split(inner, ",")
		sb.Endpoint = strings.TrimSpace(parts[0])
		for _, opt := range parts[1:] {
			k, v, ok := strings.Cut(opt, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return sb, bindError(StatusInvalidStringBinding, fmt.Sprintf("option %q in %q", opt, s), nil)
			}
			if sb.Options == nil {
				sb.Options = make(map[string]string)
			}
			sb.Options[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	if strings.ContainsAny(rest, "[]") {
		return sb, bindError(StatusInvalidStringBinding, fmt.Sprintf("stray bracket in %q", s), nil)
	}
	sb.NetworkAddress = rest
	if sb.Endpoint == "" {
		return sb, bindError(StatusInvalidStringBinding, fmt.Sprintf("missing endpoint in %q", s), nil)
	}
	return sb, nil
}

// String composes the binding back into its string form. Options are not
// included.
func (sb StringBinding) String() string {
	var b strings.Builder
	if sb.Object != uuid.Nil {
		b.WriteString(sb.Object.String())
		b.WriteByte('@')
	}
	b.WriteString(string(sb.Protseq))
	b.WriteByte(':')
	b.WriteString(sb.NetworkAddress)
	b.WriteByte('[')
	b.WriteString(sb.Endpoint)
	b.WriteByte(']')
	return b.String()
}
