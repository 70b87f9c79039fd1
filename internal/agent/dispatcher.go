package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/dougneal/stonith-rackspace/internal/fencing"
	"github.com/dougneal/stonith-rackspace/internal/metrics"
	apperrors "github.com/dougneal/stonith-rackspace/internal/shared/errors"
	"github.com/dougneal/stonith-rackspace/internal/shared/logger"
)

// Exit codes of the external plugin protocol.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// Operation is one verb of the external STONITH plugin protocol
type Operation string

const (
	OpReset          Operation = "reset"
	OpOn             Operation = "on"
	OpStatus         Operation = "status"
	OpGetHosts       Operation = "gethosts"
	OpGetConfigNames Operation = "getconfignames"
	OpDevID          Operation = "getinfo-devid"
	OpDevName        Operation = "getinfo-devname"
	OpDevDescr       Operation = "getinfo-devdescr"
	OpDevURL         Operation = "getinfo-devurl"
	OpXML            Operation = "getinfo-xml"
)

// Operations lists every recognised operation
var Operations = []Operation{
	OpReset, OpOn, OpStatus, OpGetHosts, OpGetConfigNames,
	OpDevID, OpDevName, OpDevDescr, OpDevURL, OpXML,
}

// Recognized reports whether op is part of the protocol vocabulary
func (op Operation) Recognized() bool {
	for _, known := range Operations {
		if op == known {
			return true
		}
	}
	return false
}

// NeedsProvider reports whether op talks to the compute provider. Every other
// operation answers from built-in data and must work without configuration.
func (op Operation) NeedsProvider() bool {
	return op == OpReset || op == OpOn || op == OpStatus
}

// Fencer is the part of the fencing engine the dispatcher drives
type Fencer interface {
	Fence(ctx context.Context, creds fencing.Credentials, name string) (fencing.FenceResult, error)
	Probe(ctx context.Context, creds fencing.Credentials) error
}

// Dispatcher routes one invocation to its handler and maps the outcome to an
// exit code. It is the only place a failure is logged at err.
type Dispatcher struct {
	fencer   Fencer
	creds    fencing.Credentials
	stdout   io.Writer
	hostname func() (string, error)
	metrics  *metrics.Recorder
	logger   *logger.Logger
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithStdout sets the writer operation payloads go to
func WithStdout(w io.Writer) Option {
	return func(d *Dispatcher) { d.stdout = w }
}

// WithHostname replaces os.Hostname
func WithHostname(fn func() (string, error)) Option {
	return func(d *Dispatcher) { d.hostname = fn }
}

// WithMetrics records per-operation metrics
func WithMetrics(r *metrics.Recorder) Option {
	return func(d *Dispatcher) { d.metrics = r }
}

// NewDispatcher creates a dispatcher. creds may be incomplete; only the
// operations that reach the provider validate them.
func NewDispatcher(fencer Fencer, creds fencing.Credentials, log *logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		fencer:   fencer,
		creds:    creds,
		stdout:   os.Stdout,
		hostname: os.Hostname,
		logger:   log.WithComponent("agent"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes exactly one operation from args (operation, then optional target)
// and returns the process exit code.
func (d *Dispatcher) Run(ctx context.Context, args []string) int {
	var op Operation
	var target string
	if len(args) > 0 {
		op = Operation(args[0])
	}
	if len(args) > 1 {
		target = args[1]
	}

	ctx = logger.WithOperation(ctx, string(op))
	if target != "" {
		ctx = logger.WithTarget(ctx, target)
	}

	operation := d.logger.StartOp(ctx, string(op), slog.String("target", target))
	defer d.metrics.Flush(ctx)

	out, err := d.dispatch(ctx, operation, op, target)
	d.metrics.Observe(metricLabel(op), operation.Elapsed(), err)

	if err != nil {
		operation.Fail(err, failureMessage(err))
		return ExitFailure
	}

	if out != "" {
		if _, werr := fmt.Fprintln(d.stdout, strings.TrimRight(out, "\n")); werr != nil {
			operation.Fail(werr, "failed to write operation output")
			return ExitFailure
		}
	}

	operation.Complete(string(logger.LevelDebug), "")
	return ExitOK
}

func (d *Dispatcher) dispatch(ctx context.Context, operation *logger.Operation, op Operation, target string) (string, error) {
	switch op {
	case "":
		return "", apperrors.NewAgentError(apperrors.ErrCodeUnrecognizedOperation, "No command specified", nil)

	case OpReset, OpOn:
		result, err := d.fencer.Fence(ctx, d.creds, target)
		if result.Node.ID != "" {
			operation.With(slog.String("node_id", result.Node.ID))
		}
		if err != nil {
			return "", err
		}
		operation.With(slog.String("outcome", string(result.Outcome)))
		if result.Outcome == fencing.OutcomeFenced {
			d.metrics.RebootAccepted()
		}
		return "true", nil

	case OpStatus:
		return "", d.fencer.Probe(ctx, d.creds)

	case OpGetHosts:
		host, err := d.hostname()
		if err != nil {
			return "", apperrors.WrapWithDomain(err, apperrors.DomainSystem, apperrors.ErrCodeInternal, "failed to determine hostname", false)
		}
		return host, nil

	case OpGetConfigNames:
		return strings.Join(ConfigNames, "\n"), nil

	case OpDevID:
		return DeviceID, nil
	case OpDevName:
		return DeviceName, nil
	case OpDevDescr:
		return DeviceDescription, nil
	case OpDevURL:
		return DeviceURL, nil

	case OpXML:
		doc, err := ParameterXML()
		if err != nil {
			return "", apperrors.WrapWithDomain(err, apperrors.DomainSystem, apperrors.ErrCodeInternal, "failed to render parameter schema", false)
		}
		return doc, nil

	default:
		return "", apperrors.NewAgentError(apperrors.ErrCodeUnrecognizedOperation,
			fmt.Sprintf("Command %s not implemented", op), nil).
			WithMetadata("operation", string(op))
	}
}

// TraceTransitions logs every fence state transition at debug
func TraceTransitions(ctx context.Context, bus *fencing.TransitionBus, log *logger.Logger) {
	scoped := log.WithComponent("fencing").WithContext(ctx)
	bus.Subscribe(func(t fencing.Transition) {
		scoped.Debug("state transition",
			slog.String("from", string(t.From)),
			slog.String("to", string(t.To)),
			slog.Bool("terminal", t.To.Terminal()))
	})
}

func failureMessage(err error) string {
	if domainErr, ok := apperrors.AsDomainError(err); ok && domainErr.Message() != "" {
		return domainErr.Message()
	}
	return err.Error()
}

// metricLabel keeps label cardinality bounded to the protocol vocabulary
func metricLabel(op Operation) string {
	switch {
	case op == "":
		return "none"
	case op.Recognized():
		return string(op)
	default:
		return "unrecognized"
	}
}
