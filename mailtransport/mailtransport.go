/*
Package mailtransport submits finished RFC 822 messages to an outbound SMTP
relay (spec.md §6, "plain RFC 5321 submission to smtp-host:smtp-port"), or,
when no smarthost is configured, directly to the MX hosts of the recipient's
domain. Delivery is synchronous within the handler that requested it; a
failure is logged and never changes a policy decision already computed
(spec.md §7, MailDeliveryError).
*/
package mailtransport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/postwhite/postwhite/lalog"
)

// DialTimeout bounds how long connecting to the relay may take.
const DialTimeout = 10 * time.Second

// Transport delivers a finished RFC 822 message to one or more recipients.
type Transport interface {
	Send(from string, recipients []string, message []byte) error
}

// SMTPTransport submits messages to a relay, attempting STARTTLS
// opportunistically and falling back to a plain connection when the relay
// does not offer it (grounded on the teacher's dialMTA/sendMail pair). When
// Host is left empty, the relay for each send is discovered by resolving the
// MX records of the first recipient's domain instead of a fixed smarthost.
type SMTPTransport struct {
	Host   string
	Port   int
	Logger lalog.Logger
}

// relayFor returns the host this message should be submitted to: the fixed
// Host if one is configured, otherwise the most-preferred MX host for the
// first recipient's domain.
func (t *SMTPTransport) relayFor(recipients []string) (string, error) {
	if t.Host != "" {
		return t.Host, nil
	}
	if len(recipients) == 0 {
		return "", fmt.Errorf("mailtransport: cannot resolve relay without a recipient")
	}
	at := strings.LastIndex(recipients[0], "@")
	if at < 0 {
		return "", fmt.Errorf("mailtransport: recipient %q has no domain to resolve", recipients[0])
	}
	hosts, err := ResolveMX(recipients[0][at+1:])
	if err != nil {
		return "", err
	}
	return hosts[0], nil
}

// dial establishes a plain TCP connection to the relay on Port (25 when Port
// is unset) and wraps it in an SMTP client; Send upgrades the session with
// STARTTLS when the relay offers it.
func (t *SMTPTransport) dial(host string) (*smtp.Client, error) {
	port := t.Port
	if port == 0 {
		port = 25
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("mailtransport: failed to connect to relay %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mailtransport: failed to initialise SMTP session: %w", err)
	}
	return client, nil
}

// Send delivers message to recipients via the configured relay, or, when no
// relay is configured, via the MX hosts of the first recipient's domain.
func (t *SMTPTransport) Send(from string, recipients []string, message []byte) error {
	host, err := t.relayFor(recipients)
	if err != nil {
		return err
	}
	client, err := t.dial(host)
	if err != nil {
		return err
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			t.Logger.Warning("Send", from, err, "STARTTLS negotiation failed, continuing without it")
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mailtransport: MAIL FROM rejected: %w", err)
	}
	for _, recipient := range recipients {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("mailtransport: RCPT TO %s rejected: %w", recipient, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("mailtransport: DATA rejected: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("mailtransport: failed writing message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("mailtransport: failed closing message body: %w", err)
	}
	t.Logger.Info("Send", from, nil, "delivered message to %v via %s:%d", recipients, host, t.Port)
	return client.Quit()
}

// ResolveMX looks up the mail exchangers for domain, most-preferred first,
// used when smtp-host is left unset and the relay must be discovered
// directly (an optional deployment mode beyond the fixed-relay default).
func ResolveMX(domain string) ([]string, error) {
	c := new(dns.Client)
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	in, _, err := c.Exchange(m, "8.8.8.8:53")
	if err != nil {
		return nil, fmt.Errorf("mailtransport: MX lookup failed for %s: %w", domain, err)
	}
	var records []*dns.MX
	for _, ans := range in.Answer {
		if mx, ok := ans.(*dns.MX); ok {
			records = append(records, mx)
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("mailtransport: no MX records found for %s", domain)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Preference < records[j].Preference })
	hosts := make([]string, len(records))
	for i, mx := range records {
		hosts[i] = mx.Mx
	}
	return hosts, nil
}
