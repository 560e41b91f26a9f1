package probe

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPConfig controls how the prober presents itself to destination servers.
type SMTPConfig struct {
	HelloHost string
	FromEmail string
	Timeout   time.Duration
	Ports     []string
}

func DefaultSMTPConfig() SMTPConfig {
	return SMTPConfig{
		HelloHost: "verify.mxverify.io",
		FromEmail: "postmaster@mxverify.io",
		Timeout:   15 * time.Second,
		Ports:     []string{"25"},
	}
}

// SMTPProber issues a MAIL FROM / RCPT TO exchange against the target's MX
// hosts without ever sending message content. One probe costs one short-lived
// connection; the dispatcher decides how many of these an organization gets.
type SMTPProber struct {
	cfg    SMTPConfig
	dialer *net.Dialer
}

func NewSMTPProber(cfg SMTPConfig) *SMTPProber {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultSMTPConfig().Timeout
	}
	if len(cfg.Ports) == 0 {
		cfg.Ports = []string{"25"}
	}
	return &SMTPProber{
		cfg:    cfg,
		dialer: &net.Dialer{Timeout: cfg.Timeout},
	}
}

func (p *SMTPProber) Probe(ctx context.Context, email string, mxHosts []string) *Outcome {
	if len(mxHosts) == 0 {
		return &Outcome{
			Error:    true,
			ErrorMsg: &ErrorMsg{Message: "no mail servers found for domain"},
		}
	}

	var last *Outcome
	for _, host := range mxHosts {
		host = strings.TrimSuffix(host, ".")
		for _, port := range p.cfg.Ports {
			if ctx.Err() != nil {
				return timeoutOutcome(ctx.Err())
			}
			outcome, retryNext := p.probeHost(ctx, net.JoinHostPort(host, port), email)
			if !retryNext {
				return outcome
			}
			last = outcome
		}
	}
	if last != nil {
		return last
	}
	return &Outcome{
		Error:    true,
		ErrorMsg: &ErrorMsg{Message: "all mail servers unreachable"},
	}
}

// probeHost checks one email against one server. The second return value is
// true when the failure was transport-level and the next MX host is worth
// trying.
func (p *SMTPProber) probeHost(ctx context.Context, addr, email string) (*Outcome, bool) {
	conn, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return connectionError("connection failed", err), true
	}
	defer conn.Close()

	deadline := time.Now().Add(p.cfg.Timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	conn.SetDeadline(deadline)

	host, _, _ := net.SplitHostPort(addr)
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return connectionError("server greeting failed", err), true
	}
	defer client.Close()

	if err := client.Hello(p.cfg.HelloHost); err != nil {
		return classifyReply(err), false
	}
	if err := client.Mail(p.cfg.FromEmail); err != nil {
		return classifyReply(err), false
	}

	err = client.Rcpt(email)
	if err != nil {
		return classifyReply(err), false
	}

	// Recipient accepted. Distinguish a real mailbox from a catch-all domain
	// by offering an address that cannot exist.
	outcome := &Outcome{HostExists: true, Deliverable: true}
	if domain := emailDomain(email); domain != "" {
		if client.Rcpt(randomProbeAddress(domain)) == nil {
			outcome.CatchAll = true
		}
	}
	return outcome, false
}

// classifyReply maps an SMTP reply to outcome flags. Reply text varies wildly
// between providers, so this matches on reply codes first and well-known
// phrases second, the conservative default being an inconclusive error.
func classifyReply(err error) *Outcome {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "550") || strings.Contains(msg, "551") || strings.Contains(msg, "553") ||
		strings.Contains(msg, "user unknown") || strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "no such user"):
		return &Outcome{HostExists: true}

	case strings.Contains(msg, "552") || strings.Contains(msg, "mailbox full") ||
		strings.Contains(msg, "quota"):
		return &Outcome{HostExists: true, FullInbox: true, RequiresRecheck: true}

	case strings.Contains(msg, "421") || strings.Contains(msg, "450") || strings.Contains(msg, "451") ||
		strings.Contains(msg, "grey") || strings.Contains(msg, "try again later") ||
		strings.Contains(msg, "temporarily deferred"):
		return &Outcome{HostExists: true, Greylisted: true, RequiresRecheck: true}

	case strings.Contains(msg, "554") || strings.Contains(msg, "541") ||
		strings.Contains(msg, "blocked") || strings.Contains(msg, "blacklist") ||
		strings.Contains(msg, "denied"):
		return &Outcome{HostExists: true, Disabled: true}

	default:
		return &Outcome{
			Error:    true,
			ErrorMsg: &ErrorMsg{Message: "unexpected server response", Details: err.Error()},
		}
	}
}

func connectionError(message string, err error) *Outcome {
	o := &Outcome{
		Error:    true,
		ErrorMsg: &ErrorMsg{Message: message, Details: err.Error()},
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		o.Timeout = true
	}
	return o
}

func timeoutOutcome(err error) *Outcome {
	return &Outcome{
		Error:    true,
		Timeout:  true,
		ErrorMsg: &ErrorMsg{Message: "probe timed out", Details: err.Error()},
	}
}

func emailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}

func randomProbeAddress(domain string) string {
	return fmt.Sprintf("vrfy-%08x@%s", rand.Uint32(), domain)
}
