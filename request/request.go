/*
Package request reads one Postfix-style policy-delegation block off a
connection and turns it into a ParsedRequest: the MTA attributes postwhite
cares about, plus the command verb and argument extracted from a
"local+verb[-arg]@domain" recipient, if present.
*/
package request

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// ErrMalformedRequest is returned when the input stream is truncated or does
// not carry the minimum set of attributes postwhite requires to reach a
// decision. Per spec, this maps to the generic DUNNO ("daemon error") outcome.
var ErrMalformedRequest = errors.New("request: malformed or truncated policy request")

// MaxRequestBytes bounds how much a single policy request may carry, so a
// misbehaving or malicious MTA connection cannot exhaust memory.
const MaxRequestBytes = 1 * 1048576

// recognizedKeys is the fixed set of attributes Parse retains from the
// inbound key=value block (spec.md §6); everything else is silently dropped.
var recognizedKeys = map[string]bool{
	"client_address": true,
	"client_name":    true,
	"sender":         true,
	"recipient":      true,
	"sasl_username":  true,
	"instance":       true,
}

// commandRecipient matches "local+verb[-arg]@domain" recipients. The verb
// set is exactly the one spec.md §4.A enumerates; "block" (an earlier
// revision's verb name, spec.md §9) is deliberately not accepted here, so a
// recipient bearing "+block[-arg]" falls through unmatched and is treated as
// an ordinary, non-command mail.
var commandRecipient = regexp.MustCompile(`^(.+)\+(info|learn|allow|swallow|deny)-?(.*)?(@.+)$`)

// atSignPlaceholder is the "-at-" stand-in for a literal "@" inside a command
// argument, so it can survive being part of a local-part; extractCommand
// turns it back into "@".
const atSignPlaceholder = "-at-"

// ParsedRequest is the set of attributes and derived values postwhite's
// decision engine and command executor operate on.
type ParsedRequest struct {
	ClientAddress string
	ClientName    string
	Sender        string
	Recipient     string
	SASLUsername  string
	Instance      string

	SenderLocal  string
	SenderDomain string

	// Command and Argument are set only when Recipient carried a
	// "+verb[-arg]" suffix; HasCommand reports whether that happened.
	HasCommand bool
	Command    string
	Argument   string
}

// Parse reads exactly one key=value block (terminated by a blank line) from
// r and returns the ParsedRequest derived from it.
func Parse(r io.Reader) (*ParsedRequest, error) {
	reader := textproto.NewReader(bufio.NewReader(io.LimitReader(r, MaxRequestBytes)))
	attrs := make(map[string]string, len(recognizedKeys))
	sawAnyLine := false
	terminated := false
	for {
		line, err := reader.ReadLine()
		if err != nil {
			// A stream that ends before the terminating blank line is a
			// truncated request, never a successfully parsed one.
			return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
		}
		line = textproto.TrimString(line)
		if line == "" {
			terminated = true
			break
		}
		sawAnyLine = true
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if !recognizedKeys[key] {
			continue
		}
		attrs[key] = strings.ToLower(strings.TrimSpace(value))
	}
	if !terminated || !sawAnyLine {
		return nil, ErrMalformedRequest
	}

	req := &ParsedRequest{
		ClientAddress: attrs["client_address"],
		ClientName:    attrs["client_name"],
		Sender:        attrs["sender"],
		Recipient:     attrs["recipient"],
		SASLUsername:  attrs["sasl_username"],
		Instance:      attrs["instance"],
	}
	if req.Sender == "" || req.Recipient == "" {
		return nil, ErrMalformedRequest
	}

	req.Recipient = normalizeAddressDomain(req.Recipient)
	req.Sender = normalizeAddressDomain(req.Sender)

	extractCommand(req)

	if idx := strings.LastIndex(req.Sender, "@"); idx >= 0 {
		req.SenderLocal = req.Sender[:idx]
		req.SenderDomain = req.Sender[idx+1:]
	} else {
		req.SenderLocal = req.Sender
	}
	return req, nil
}

// extractCommand splits a "local+verb[-arg]@domain" recipient into its
// command verb and argument, replacing Recipient with the stripped address.
func extractCommand(req *ParsedRequest) {
	m := commandRecipient.FindStringSubmatch(req.Recipient)
	if m == nil {
		return
	}
	base, verb, argument, domain := m[1], m[2], m[3], m[4]
	req.Recipient = base + domain
	req.HasCommand = true
	req.Command = verb
	req.Argument = strings.ReplaceAll(argument, atSignPlaceholder, "@")
}

// normalizeAddressDomain IDNA-normalizes the domain portion of an address,
// leaving the local part untouched. It does not change case; Parse has
// already lowercased every retained value. Addresses without an "@"
// pass through unchanged; malformed IDN labels are left as-is rather than
// rejected, since postwhite is not in the business of validating addresses
// it merely relays a decision about.
func normalizeAddressDomain(address string) string {
	idx := strings.LastIndex(address, "@")
	if idx < 0 {
		return address
	}
	local, domain := address[:idx], address[idx+1:]
	if ascii, err := idna.ToASCII(domain); err == nil {
		domain = ascii
	}
	return local + "@" + domain
}
