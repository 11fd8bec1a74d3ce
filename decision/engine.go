/*
Package decision implements the Decision Engine: given a parsed request, the
recipient registry, the allow-list store, and the learning-mode spool, it
produces one of the four MTA actions (spec.md §6) and, for commands and
learning-mode traffic, hands off work to a Mailer collaborator.
*/
package decision

import (
	"fmt"

	"github.com/postwhite/postwhite/lalog"
	"github.com/postwhite/postwhite/metrics"
	"github.com/postwhite/postwhite/registry"
	"github.com/postwhite/postwhite/request"
	"github.com/postwhite/postwhite/spool"
	"github.com/postwhite/postwhite/store"
)

// Action is one of the four verbs the policy wire protocol understands.
type Action string

const (
	DUNNO   Action = "DUNNO"
	OK      Action = "OK"
	REJECT  Action = "REJECT"
	DISCARD Action = "DISCARD"
)

// Result is the decision engine's output: an action and the message to
// attach to it.
type Result struct {
	Action  Action
	Message string
}

func dunno(msg string) Result  { return Result{Action: DUNNO, Message: msg} }
func ok(msg string) Result     { return Result{Action: OK, Message: msg} }
func reject(msg string) Result { return Result{Action: REJECT, Message: msg} }
func discard(msg string) Result {
	return Result{Action: DISCARD, Message: msg}
}

// loopbackAddresses bypass all policy: the daemon itself and local
// submission must never be blocked (spec.md §4.D rule 1).
var loopbackAddresses = map[string]bool{
	"127.0.0.1": true,
	"::1":       true,
}

// CommandExecutor runs the command side effects of an authorized command
// message (spec.md §4.F). Implemented by package mailcmd.
type CommandExecutor interface {
	Execute(req *request.ParsedRequest) error
}

// Mailer enqueues the learning-mode advisory reply-mails (spec.md §4.D rule
// 4). Implemented by package mailcmd.
type Mailer interface {
	SendAllowAdvisory(req *request.ParsedRequest) error
	SendDenyAdvisory(req *request.ParsedRequest) error
}

// Engine holds the collaborators the decision table consults.
type Engine struct {
	Registry      *registry.Registry
	Store         *store.Store
	Spool         *spool.Spool
	Executor      CommandExecutor
	Mailer        Mailer
	RequireSASL   bool
	RejectMessage string
	Logger        lalog.Logger
	Metrics       *metrics.Collector
}

// Decide runs the full decision table against req (spec.md §4.D). It never
// returns an error: any internal failure is logged and mapped to DUNNO, so
// a malfunctioning daemon fails open rather than bricking the MTA.
func (e *Engine) Decide(req *request.ParsedRequest) Result {
	result := e.decide(req)
	if e.Metrics != nil {
		e.Metrics.Decisions.WithLabelValues(string(result.Action)).Inc()
		if req.HasCommand {
			commandResult := "rejected"
			if result.Action == DISCARD {
				commandResult = "executed"
			}
			e.Metrics.Commands.WithLabelValues(req.Command, commandResult).Inc()
		}
	}
	return result
}

func (e *Engine) decide(req *request.ParsedRequest) Result {
	if loopbackAddresses[req.ClientAddress] {
		return dunno("not a whitelist protected recipient")
	}
	if !e.Registry.Contains(req.Recipient) {
		return dunno("not a whitelist protected recipient")
	}
	if req.HasCommand {
		if !e.authorized(req) {
			return reject("authorization failed")
		}
		if err := e.Executor.Execute(req); err != nil {
			e.Logger.Warning("Decide", req.Recipient, err, "command %q failed to execute", req.Command)
			return dunno("daemon error")
		}
		return discard("executing command")
	}

	learning, err := e.Spool.IsLearning(req.Recipient)
	if err != nil {
		e.recordStoreError(err, req.Recipient, "failed to check learning mode")
		return dunno("daemon error")
	}
	if learning {
		return e.decideLearning(req)
	}

	method, err := e.Store.Query(req.Recipient, req.Sender, req.SenderDomain)
	if err != nil {
		e.recordStoreError(err, req.Recipient, "failed to query allow-list")
		return dunno("daemon error")
	}
	switch method {
	case store.SWALLOW:
		return discard("found on whitelist with SWALLOW")
	case store.ALLOW:
		return dunno("found on whitelist with ALLOW")
	default:
		return reject(e.RejectMessage)
	}
}

// decideLearning implements spec.md §4.D rule 4: during the learning
// window every sender is accepted, and the recipient is advised toward
// either allowing or denying the new sender next time.
func (e *Engine) decideLearning(req *request.ParsedRequest) Result {
	method, err := e.Store.Query(req.Recipient, req.Sender, req.SenderDomain)
	if err != nil {
		e.recordStoreError(err, req.Recipient, "failed to query allow-list during learning")
		return dunno("daemon error")
	}
	var mailErr error
	if method == store.DENY {
		mailErr = e.Mailer.SendAllowAdvisory(req)
	} else {
		mailErr = e.Mailer.SendDenyAdvisory(req)
	}
	if mailErr != nil {
		e.Logger.Warning("Decide", req.Recipient, mailErr, "failed to enqueue learning-mode advisory")
	}
	return ok("learning mode")
}

// authorized implements spec.md §4.D's conjunctive authorization check: the
// sender must itself be a registered recipient, must equal the (stripped)
// recipient, and SASL enforcement must either be disabled or satisfied.
func (e *Engine) authorized(req *request.ParsedRequest) bool {
	if !e.Registry.Contains(req.Sender) {
		return false
	}
	if req.Sender != req.Recipient {
		return false
	}
	if !e.RequireSASL {
		return true
	}
	expected, ok := e.Registry.ExpectedSASLIdentity(req.Sender)
	if !ok {
		return false
	}
	return expected == req.SASLUsername
}

// recordStoreError logs a store/spool failure and, when a collector is
// configured, counts it toward the store_io_errors_total metric.
func (e *Engine) recordStoreError(err error, recipient, msg string) {
	e.Logger.Warning("Decide", recipient, err, "%s", msg)
	if e.Metrics != nil {
		e.Metrics.StoreErrors.Inc()
	}
}

// Render formats a Result as the exact wire bytes the policy protocol
// expects (spec.md §4.E): "action=<ACTION> <message>\n\n".
func (r Result) Render() string {
	if r.Message == "" {
		return fmt.Sprintf("action=%s\n\n", r.Action)
	}
	return fmt.Sprintf("action=%s %s\n\n", r.Action, r.Message)
}
