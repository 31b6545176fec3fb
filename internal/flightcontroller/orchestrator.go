package flightcontroller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/skyrelay/internal/command"
	"github.com/autopeer-io/skyrelay/internal/pkg/metrics"
	utilfsm "github.com/autopeer-io/skyrelay/internal/pkg/util/fsm"
	"github.com/autopeer-io/skyrelay/internal/pkg/util/wait"
	"github.com/autopeer-io/skyrelay/pkg/log"
	"github.com/autopeer-io/skyrelay/pkg/options"
)

// Flight stages.
const (
	StagePreFlight = "preflight"
	StageExecuting = "executing"
	StageLanding   = "landing"
	StageDone      = "done"
	StageAborted   = "aborted"
)

// Stage transitions.
const (
	EventBegin         = "begin"
	EventComplete      = "complete"
	EventAbort         = "abort"
	EventAbortGrounded = "abort_grounded"
	EventLanded        = "landed"
	EventAbortLanded   = "abort_landed"
)

var stages = []string{StagePreFlight, StageExecuting, StageLanding, StageDone, StageAborted}

var (
	// ErrPreflight is returned when a pre-flight check fails.
	ErrPreflight = errors.New("pre-flight check failed")

	// ErrAborted is returned when the command sequence could not be completed.
	ErrAborted = errors.New("flight aborted")

	// ErrLanding is returned when no landing was acknowledged.
	ErrLanding = errors.New("landing not acknowledged")
)

// errGrounded marks pre-flight failures that happen before anything left the
// ground, so no landing is needed.
var errGrounded = errors.New("vehicle still on the ground")

// Orchestrator flies one sequence: pre-flight checks, the configured
// commands, then landing. It is not safe for concurrent use.
type Orchestrator struct {
	opts      *options.FlightOptions
	sequence  []command.Command
	commander Commander
	validator *command.Validator

	stage  *fsm.FSM
	report *Report
	log    log.Logger
}

// NewOrchestrator validates the flight options and returns an Orchestrator
// sending through commander.
func NewOrchestrator(opts *options.FlightOptions, commander Commander) (*Orchestrator, error) {
	seq, err := opts.ParseSequence()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		opts:      opts,
		sequence:  seq,
		commander: commander,
		validator: command.NewValidator(opts.ToLimits()),
		log:       log.WithName("orchestrator"),
	}

	o.stage = fsm.NewFSM(
		StagePreFlight,
		fsm.Events{
			{Name: EventBegin, Src: []string{StagePreFlight}, Dst: StageExecuting},
			{Name: EventComplete, Src: []string{StageExecuting}, Dst: StageLanding},
			{Name: EventAbort, Src: []string{StagePreFlight, StageExecuting}, Dst: StageLanding},
			{Name: EventAbortGrounded, Src: []string{StagePreFlight}, Dst: StageAborted},
			{Name: EventLanded, Src: []string{StageLanding}, Dst: StageDone},
			{Name: EventAbortLanded, Src: []string{StageLanding}, Dst: StageAborted},
		},
		fsm.Callbacks{
			"enter_state": utilfsm.WrapEvent(o.onEnterStage),
		},
	)
	setStageMetric(StagePreFlight)

	return o, nil
}

// Stage returns the current flight stage.
func (o *Orchestrator) Stage() string {
	return o.stage.Current()
}

func (o *Orchestrator) onEnterStage(_ context.Context, e *fsm.Event) error {
	setStageMetric(e.Dst)
	o.log.Info("Flight stage changed", "from", e.Src, "to", e.Dst, "event", e.Event)
	return nil
}

func setStageMetric(current string) {
	for _, s := range stages {
		v := 0.0
		if s == current {
			v = 1
		}
		metrics.FlightStage.WithLabelValues(s).Set(v)
	}
}

// Run flies the whole sequence. Landing is attempted on every path that may
// have left the ground, including cancellation of ctx, in which case it runs
// on a detached context bounded by the landing timeout. The error is nil only
// when the run reaches the done stage.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	o.report = &Report{}

	runErr := o.preflight(ctx)
	switch {
	case runErr == nil:
		o.fire(ctx, EventBegin)
		runErr = o.execute(ctx)
		if runErr == nil {
			o.fire(ctx, EventComplete)
		} else {
			o.fire(ctx, EventAbort)
		}
	case errors.Is(runErr, errGrounded):
		o.fire(ctx, EventAbortGrounded)
		o.report.finish(o.Stage(), runErr)
		return o.report, runErr
	default:
		o.fire(ctx, EventAbort)
	}

	landErr := o.land(ctx)

	switch {
	case runErr == nil && landErr == nil:
		o.fire(ctx, EventLanded)
	default:
		o.fire(ctx, EventAbortLanded)
	}

	err := errors.Join(runErr, landErr)
	o.report.finish(o.Stage(), err)
	if err != nil {
		o.log.Error(err, "Flight ended without completing", "stage", o.Stage())
	} else {
		o.log.Info("Flight completed", "commands", len(o.sequence))
	}
	return o.report, err
}

func (o *Orchestrator) fire(ctx context.Context, event string) {
	// Stage bookkeeping must survive a cancelled run.
	if err := utilfsm.Fire(context.WithoutCancel(ctx), o.stage, event); err != nil {
		o.log.Error(err, "Invalid flight stage transition", "event", event, "stage", o.Stage())
	}
}

func (o *Orchestrator) preflight(ctx context.Context) error {
	battery, err := o.query(ctx, command.Battery)
	if err != nil {
		return fmt.Errorf("%w: battery query: %w: %w", ErrPreflight, errGrounded, err)
	}
	if battery < o.opts.MinBatteryLevel {
		return fmt.Errorf("%w: battery at %d%%, need %d%%: %w", ErrPreflight, battery, o.opts.MinBatteryLevel, errGrounded)
	}
	o.log.Info("Battery check passed", "level", battery)

	if err := o.takeoff(ctx); err != nil {
		return err
	}

	if err := wait.Sleep(ctx, o.opts.StabilizationDelay); err != nil {
		return err
	}

	height, err := o.query(ctx, command.Height)
	if err != nil {
		return fmt.Errorf("%w: height query: %w", ErrPreflight, err)
	}
	if height < o.opts.MinHeightAfterTakeoff {
		return fmt.Errorf("%w: height %dcm after takeoff, need %dcm", ErrPreflight, height, o.opts.MinHeightAfterTakeoff)
	}
	o.log.Info("Height check passed", "height", height)
	return nil
}

// takeoff tries up to MaxTakeoffAttempts times. A failed attempt may still
// have lifted the vehicle, so each one is followed by a landing.
func (o *Orchestrator) takeoff(ctx context.Context) error {
	var last Entry
	for attempt := 1; attempt <= o.opts.MaxTakeoffAttempts; attempt++ {
		last = o.issue(ctx, command.Takeoff, o.opts.TakeoffTimeout, 1, classifyAck)
		if last.Outcome == command.Ok {
			o.log.Info("Takeoff acknowledged", "attempt", attempt)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		o.log.Warn("Takeoff failed, landing before the next attempt", "attempt", attempt, "reply", last.Reply.String(), "error", last.Err)
		o.issue(ctx, command.Land, o.opts.LandingTimeout, o.opts.MaxCommandRetries, classifyAck)

		if attempt < o.opts.MaxTakeoffAttempts {
			if err := wait.Sleep(ctx, o.opts.RetryInterval); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: takeoff failed after %d attempts (last reply %q)", ErrPreflight, o.opts.MaxTakeoffAttempts, last.Reply)
}

func (o *Orchestrator) execute(ctx context.Context) error {
	for i, cmd := range o.sequence {
		e := o.issue(ctx, cmd, o.opts.DefaultTimeout, o.opts.MaxCommandRetries, classifyAck)
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.Outcome != command.Ok {
			return fmt.Errorf("%w: command %d %q: %s after %d attempts (reply %q)", ErrAborted, i+1, cmd, e.Outcome, e.Attempts, e.Reply)
		}
		if err := wait.Sleep(ctx, o.opts.CommandInterval); err != nil {
			return err
		}
	}
	return nil
}

// land is always attempted. If ctx is already done the landing runs on a
// detached context so a cancelled or failed run still grounds the vehicle.
func (o *Orchestrator) land(ctx context.Context) error {
	if ctx.Err() != nil {
		o.log.Warn("Run interrupted, attempting landing on a detached context", "timeout", o.opts.LandingTimeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), o.opts.LandingTimeout)
		defer cancel()
	}

	e := o.issue(ctx, command.Land, o.opts.LandingTimeout, o.opts.MaxCommandRetries, classifyAck)
	if e.Outcome != command.Ok {
		return fmt.Errorf("%w: %s after %d attempts (reply %q)", ErrLanding, e.Outcome, e.Attempts, e.Reply)
	}
	return nil
}

// query issues a measurement command and returns the parsed reading.
func (o *Orchestrator) query(ctx context.Context, cmd command.Command) (int, error) {
	e := o.issue(ctx, cmd, o.opts.DefaultTimeout, o.opts.MaxCommandRetries, classifyMeasurement)
	if e.Outcome != command.Ok {
		if e.Err != nil {
			return 0, e.Err
		}
		return 0, fmt.Errorf("%s: unusable reply %q", cmd, e.Reply)
	}
	return command.ParseMeasurement(e.Reply)
}

type classifier func(command.Command, command.Reply) command.Outcome

func classifyAck(c command.Command, r command.Reply) command.Outcome {
	return command.Classify(c, r)
}

func classifyMeasurement(c command.Command, r command.Reply) command.Outcome {
	if _, err := command.ParseMeasurement(r); err == nil {
		return command.Ok
	}
	if out := command.Classify(c, r); out == command.UnrecoverableFailure {
		return out
	}
	return command.RecoverableFailure
}

// issue validates cmd and sends it up to budget times. Recoverable failures
// are retried after RetryInterval; unrecoverable ones stop immediately. A
// command failing local validation never reaches the broker and is answered
// with a synthesized "invalid command".
func (o *Orchestrator) issue(ctx context.Context, cmd command.Command, timeout time.Duration, budget int, classify classifier) Entry {
	e := Entry{Stage: o.Stage(), Command: cmd}
	start := time.Now()
	defer func() {
		e.Latency = time.Since(start)
		o.report.add(e)
	}()

	if err := o.validator.Validate(cmd); err != nil {
		e.Reply, e.Outcome, e.Err = command.ReplyInvalidCommand, command.UnrecoverableFailure, err
		metrics.CommandAttemptsTotal.WithLabelValues(cmd.Verb(), e.Outcome.String()).Inc()
		o.log.Error(err, "Command rejected locally", "command", cmd)
		return e
	}

	for e.Attempts < budget {
		e.Attempts++
		reply, err := o.commander.Send(ctx, cmd, timeout)
		e.Reply, e.Err = reply, err

		if err != nil {
			e.Outcome = command.RecoverableFailure
		} else {
			e.Outcome = classify(cmd, reply)
		}
		metrics.CommandAttemptsTotal.WithLabelValues(cmd.Verb(), e.Outcome.String()).Inc()

		switch {
		case e.Outcome == command.Ok:
			o.log.Info("Command acknowledged", "command", cmd, "reply", reply, "attempt", e.Attempts)
			e.Err = nil
			return e
		case e.Outcome == command.UnrecoverableFailure:
			o.log.Error(nil, "Command rejected by vehicle", "command", cmd, "reply", reply)
			return e
		case ctx.Err() != nil:
			e.Err = ctx.Err()
			return e
		}

		o.log.Warn("Command failed, will retry", "command", cmd, "reply", reply, "error", err,
			"attempt", e.Attempts, "budget", budget)
		if e.Attempts < budget {
			if err := wait.Sleep(ctx, o.opts.RetryInterval); err != nil {
				e.Err = err
				return e
			}
		}
	}
	return e
}
