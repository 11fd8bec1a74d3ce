/*
Package mailcmd implements the Command Executor and Mail Builder (spec.md
§4.F): it carries out the five command verbs against the allow-list store
and learning spool, and renders the advisory reply-mails that let a
recipient toggle their own list by replying.
*/
package mailcmd

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/postwhite/postwhite/lalog"
	"github.com/postwhite/postwhite/mailtransport"
	"github.com/postwhite/postwhite/metrics"
	"github.com/postwhite/postwhite/request"
	"github.com/postwhite/postwhite/spool"
	"github.com/postwhite/postwhite/store"
)

// Executor runs command side effects and sends the mails they (or the
// learning-mode decision path) require.
type Executor struct {
	Store     *store.Store
	Spool     *spool.Spool
	Templates *Templates
	Transport mailtransport.Transport
	Logger    lalog.Logger
	Metrics   *metrics.Collector
}

// Execute carries out the state transition named by req.Command
// (spec.md §4.F):
//
//	info     render the whitelist dump and mail it to the recipient
//	learn    open the learning window
//	allow    add ALLOW for the argument, close the learning window
//	swallow  add SWALLOW for the argument
//	deny     remove the argument's entries, close the learning window
func (e *Executor) Execute(req *request.ParsedRequest) error {
	switch req.Command {
	case "info":
		return e.sendInfo(req)
	case "learn":
		return e.Spool.BeginLearning(req.Recipient)
	case "allow":
		if err := e.Store.Add(req.Recipient, req.Argument, store.ALLOW); err != nil {
			return err
		}
		return e.Spool.EndLearning(req.Recipient)
	case "swallow":
		return e.Store.Add(req.Recipient, req.Argument, store.SWALLOW)
	case "deny":
		if err := e.Store.Remove(req.Recipient, req.Argument); err != nil {
			return err
		}
		return e.Spool.EndLearning(req.Recipient)
	default:
		return fmt.Errorf("mailcmd: unrecognized command %q", req.Command)
	}
}

// infoData is the value the info template renders against.
type infoData struct {
	Recipient string
	Whitelist []store.Entry
}

func (e *Executor) sendInfo(req *request.ParsedRequest) error {
	entries, err := e.Store.Dump(req.Recipient)
	if err != nil {
		return err
	}
	sorted := make([]store.Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Pattern < sorted[j].Pattern })

	var body bytes.Buffer
	if err := e.Templates.Info.Execute(&body, infoData{Recipient: req.Recipient, Whitelist: sorted}); err != nil {
		return fmt.Errorf("mailcmd: failed to render info template: %w", err)
	}
	return e.deliver(req.Recipient, e.Templates.From, "postwhite status", body.String())
}

// SendAllowAdvisory tells recipient that mail from an unknown sender arrived
// during learning mode, and offers a reply address that would allow it
// (spec.md §4.D rule 4).
func (e *Executor) SendAllowAdvisory(req *request.ParsedRequest) error {
	var body bytes.Buffer
	if err := e.Templates.AllowAdvisory.Execute(&body, req); err != nil {
		return fmt.Errorf("mailcmd: failed to render allow-advisory template: %w", err)
	}
	replyTo := commandAddress(req.Recipient, "allow", req.SenderDomain)
	return e.deliverWithReplyTo(req.Recipient, replyTo, "new sender during learning", body.String())
}

// SendDenyAdvisory tells recipient that mail from an already-whitelisted
// sender arrived during learning mode, and offers a reply address that
// would deny it instead.
func (e *Executor) SendDenyAdvisory(req *request.ParsedRequest) error {
	var body bytes.Buffer
	if err := e.Templates.DenyAdvisory.Execute(&body, req); err != nil {
		return fmt.Errorf("mailcmd: failed to render deny-advisory template: %w", err)
	}
	replyTo := commandAddress(req.Recipient, "deny", req.SenderDomain)
	return e.deliverWithReplyTo(req.Recipient, replyTo, "sender during learning", body.String())
}

// commandAddress builds the "local+verb-domain@domain" form a reply-to
// header points at so that replying toggles the list (spec.md §4.F).
func commandAddress(recipient, verb, argumentDomain string) string {
	local, domain, found := strings.Cut(recipient, "@")
	if !found {
		return recipient
	}
	return fmt.Sprintf("%s+%s-%s@%s", local, verb, argumentDomain, domain)
}

func (e *Executor) deliver(recipient, replyTo, subject, body string) error {
	return e.deliverWithReplyTo(recipient, replyTo, subject, body)
}

func (e *Executor) deliverWithReplyTo(recipient, replyTo, subject, body string) error {
	message := buildMessage(e.Templates.From, recipient, replyTo, subject, body, e.Templates.Footer)
	err := e.Transport.Send(e.Templates.From, []string{recipient}, message)
	if e.Metrics != nil {
		result := "delivered"
		if err != nil {
			result = "failed"
		}
		e.Metrics.MailDeliveries.WithLabelValues(result).Inc()
	}
	if err != nil {
		e.Logger.Warning("deliver", recipient, err, "failed to deliver mail")
		return err
	}
	return nil
}

// buildMessage prepends From/To/Reply-To/Subject headers to body+footer,
// producing the full RFC 822 text handed to the outbound transport
// (spec.md §4.F "Mail builder").
func buildMessage(from, to, replyTo, subject, body, footer string) []byte {
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Reply-To: %s\r\n", replyTo)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("\r\n")
	msg.WriteString(body)
	if footer != "" {
		msg.WriteString("\r\n")
		msg.WriteString(footer)
	}
	return msg.Bytes()
}
