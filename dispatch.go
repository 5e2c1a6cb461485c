package ticketgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
)

// IdentityResolver reports this machine's network identity.
type IdentityResolver interface {
	LocalIdentity(ctx context.Context) (string, error)
}

// Printer submits bytes to a named output device.
type Printer interface {
	// SubmitRaw sends printer-language bytes, such as ZPL, unmodified.
	SubmitRaw(ctx context.Context, destination string, data []byte) error

	// SubmitDocument sends a page description document, such as PDF.
	SubmitDocument(ctx context.Context, destination string, data []byte) error
}

// DestinationResolver maps a printer class to a destination name.
// It returns "" when the class is not configured.
type DestinationResolver interface {
	ResolveDestination(class string) string
}

// Request is one inbound message.
type Request struct {
	Action  string   `json:"action"`
	Tickets []Ticket `json:"tickets,omitempty"`
}

// Result is the reply to one Request.
type Result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// BatchReport is the Data of a batch-print Result, successful or not.
// Jobs before a failing job have already been submitted and are not undone.
type BatchReport struct {
	Submitted int `json:"submitted"`
	Total     int `json:"total"`
}

func failure(err error) Result {
	return Result{Message: err.Error()}
}

// RouterOpt configures a Router.
type RouterOpt struct {
	Validator    *Validator
	Identity     IdentityResolver
	Printer      Printer
	Destinations DestinationResolver
	Log          *slog.Logger
	Metrics      *Metrics
}

// Router executes messages on behalf of an authorized session.
type Router struct {
	validator    *Validator
	identity     IdentityResolver
	printer      Printer
	destinations DestinationResolver
	log          *slog.Logger
	metrics      *Metrics
}

// NewRouter returns a Router. Collaborators left nil make the actions that
// need them fail at dispatch time.
func NewRouter(opt RouterOpt) (*Router, error) {
	if opt.Validator == nil {
		return nil, &ConfigError{Setting: "router", Err: errors.New("validator is required")}
	}
	log := opt.Log
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		validator:    opt.Validator,
		identity:     opt.Identity,
		printer:      opt.Printer,
		destinations: opt.Destinations,
		log:          log,
		metrics:      opt.Metrics,
	}, nil
}

// Dispatch runs req for a session authorized for authorized. A message
// whose action differs from authorized fails without touching any
// collaborator.
func (r *Router) Dispatch(ctx context.Context, authorized Action, req *Request) Result {
	declared, ok := ParseAction(req.Action)
	if !ok || declared != authorized {
		r.metrics.dispatched(strings.ToLower(strings.TrimSpace(req.Action)), false)
		return failure(ErrActionMismatch)
	}
	var res Result
	switch declared {
	case ActionIdentityQuery:
		res = r.identityQuery(ctx)
	case ActionBatchPrint:
		res = r.batchPrint(ctx, req.Tickets)
	default:
		res = failure(fmt.Errorf("%w: %s", ErrUnsupportedAction, declared))
	}
	r.metrics.dispatched(string(declared), res.OK)
	return res
}

func (r *Router) identityQuery(ctx context.Context) Result {
	if r.identity == nil {
		return failure(ErrIdentityUnavailable)
	}
	var id string
	err := r.guard("identity", func() error {
		var err error
		id, err = r.identity.LocalIdentity(ctx)
		return err
	})
	if err != nil {
		r.log.WarnContext(ctx, "identity query failed", "err", err)
		return failure(&DispatchError{Op: "identity", Err: err})
	}
	if id == "" {
		return failure(ErrIdentityUnavailable)
	}
	return Result{OK: true, Message: "ok", Data: id}
}

// batchPrint validates and submits each job in order, stopping at the
// first failure.
func (r *Router) batchPrint(ctx context.Context, tickets []Ticket) Result {
	report := BatchReport{Total: len(tickets)}
	if len(tickets) == 0 {
		return Result{Message: ErrNoTickets.Error(), Data: report}
	}
	for i := range tickets {
		t := &tickets[i]
		if err := ctx.Err(); err != nil {
			return Result{Message: err.Error(), Data: report}
		}
		if err := r.printJob(ctx, t); err != nil {
			jobID := strings.TrimSpace(t.JobID)
			r.log.WarnContext(ctx, "batch job failed",
				"job", i+1, "job_id", jobID, "client_id", strings.TrimSpace(t.ClientID),
				"submitted", report.Submitted, "err", err)
			return Result{
				Message: fmt.Sprintf("job %d (%s): %v", i+1, jobID, err),
				Data:    report,
			}
		}
		report.Submitted++
	}
	return Result{
		OK:      true,
		Message: fmt.Sprintf("%d job(s) submitted", report.Submitted),
		Data:    report,
	}
}

func (r *Router) printJob(ctx context.Context, t *Ticket) error {
	// Jobs that could never be printed are refused before validation so
	// their tickets are not consumed.
	act, ok := ParseAction(t.Action)
	if ok && !act.CarriesPayload() {
		return fmt.Errorf("%w: %s", ErrUnsupportedAction, act)
	}
	data, err := r.validator.Validate(t)
	r.metrics.validated(err)
	if err != nil {
		return err
	}

	class := strings.ToLower(strings.TrimSpace(t.PrinterClass))
	if class == "" {
		class = act.DefaultPrinterClass()
	}
	var dest string
	if r.destinations != nil {
		dest = r.destinations.ResolveDestination(class)
	}
	if dest == "" {
		return &DispatchError{Op: "print " + class, Err: ErrDestinationNotSet}
	}
	if r.printer == nil {
		return &DispatchError{Op: "print " + class, Err: errors.New("no printer configured")}
	}

	err = r.guard("print", func() error {
		if act == ActionPrintLabel {
			return r.printer.SubmitRaw(ctx, dest, data)
		}
		return r.printer.SubmitDocument(ctx, dest, data)
	})
	if err != nil {
		return &DispatchError{Op: "print " + class, Err: err}
	}
	r.log.InfoContext(ctx, "job submitted",
		"job_id", strings.TrimSpace(t.JobID), "action", act, "destination", dest, "bytes", len(data))
	return nil
}

// guard runs a collaborator call, turning a panic into ErrCollaboratorPanic.
func (r *Router) guard(op string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("collaborator panic", "op", op, "panic", p, "stack", string(debug.Stack()))
			err = ErrCollaboratorPanic
		}
	}()
	return fn()
}
