package irrigation

import (
	"context"
	"errors"
	"time"

	"github.com/irrigation-engine/edge-controller/internal/errs"
)

// Tunable constants of the pulsed control loop (§4.5).
const (
	WaterPerPulseLiters    = 0.03
	OverwaterMarginPercent = 10.0
	OverwaterAgeThreshold  = 24 * time.Hour
	// CancelGracePeriod bounds how long cancellation may take beyond a
	// pulse: used by the caller (task registry) to force-close on
	// timeout, not enforced inside Run itself.
	CancelGracePeriod = 2 * time.Second
)

// PauseBetweenPulses is the inter-pulse rest period (§4.5, ≈10s). It is a
// var rather than a const so tests can shrink it; production code never
// reassigns it.
var PauseBetweenPulses = 10 * time.Second

// Reading is one moisture/temperature sample.
type Reading struct {
	MoisturePercent float64
	TemperatureC    float64
}

// MoistureReader is the narrow sensor contract the algorithm needs.
type MoistureReader interface {
	Read() (Reading, error)
}

// ValveController is the narrow valve contract the algorithm needs. It
// deliberately excludes Unblock: only the command surface unblocks a
// valve, never the algorithm itself.
type ValveController interface {
	RequestOpen() error
	RequestClose() error
	Block()
}

// Params are the per-run inputs to the algorithm, copied out of a Plant
// so the algorithm has no dependency on the plant registry and can be
// exercised with fakes.
type Params struct {
	PlantID             int
	Target              float64
	WaterLimit          float64
	FlowRateLPerS       float64
	LastIrrigationTime  time.Time
	HasIrrigated        bool
}

// ResultStatus is the terminal classification of a run.
type ResultStatus string

const (
	ResultSuccess   ResultStatus = "success"
	ResultSkipped   ResultStatus = "skipped"
	ResultCancelled ResultStatus = "cancelled"
	ResultFault     ResultStatus = "fault"
	ResultError     ResultStatus = "error"
)

// SkipReason classifies why a run was skipped without actuation.
type SkipReason string

const (
	SkipOverwatered           SkipReason = "overwatered"
	SkipMoistureAtOrAboveTarget SkipReason = "moisture_at_or_above_target"
)

// Outcome is the single terminal result of one algorithm run.
type Outcome struct {
	Status           ResultStatus
	SkipReason       SkipReason
	Err              error
	InitialMoisture  float64
	FinalMoisture    float64
	WaterAddedLiters float64
	Pulses           int
}

// pulseDuration is how long a single pulse holds the valve open to
// deliver WaterPerPulseLiters at flowRate.
func pulseDuration(flowRateLPerS float64) time.Duration {
	seconds := WaterPerPulseLiters / flowRateLPerS
	return time.Duration(seconds * float64(time.Second))
}

// PulseDuration exposes the per-run pulse duration, e.g. for the task
// registry's cancellation grace period.
func PulseDuration(flowRateLPerS float64) time.Duration {
	return pulseDuration(flowRateLPerS)
}

// cancellableSleep blocks for d or returns early (true) if ctx is done.
func cancellableSleep(ctx context.Context, d time.Duration) (cancelled bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return false
	case <-ctx.Done():
		return true
	}
}

// Run drives the pulsed wet/rest loop for one plant until target
// moisture, water limit, cancellation, or fault, emitting progress events
// to sink as it goes. sink must not block (the algorithm does not retry a
// full send); a nil sink is legal for tests that only care about the
// returned Outcome.
func Run(ctx context.Context, p Params, valve ValveController, sensor MoistureReader, sink func(Progress)) Outcome {
	emit := func(pr Progress) {
		if sink != nil {
			sink(pr)
		}
	}

	// 1. Initial read.
	r0, err := sensor.Read()
	if err != nil {
		return Outcome{Status: ResultError, Err: errs.Wrap(errs.SensorReadFailed, "initial moisture read failed", err)}
	}
	m0 := r0.MoisturePercent
	emit(initialCheckProgress(p.PlantID, m0, p.Target))

	// 2. Overwatering guard.
	if p.HasIrrigated && time.Since(p.LastIrrigationTime) > OverwaterAgeThreshold && m0 > p.Target+OverwaterMarginPercent {
		valve.Block()
		emit(overwateringCheckProgress(p.PlantID, m0, p.Target, true))
		return Outcome{Status: ResultSkipped, SkipReason: SkipOverwatered, InitialMoisture: m0, FinalMoisture: m0}
	}
	emit(overwateringCheckProgress(p.PlantID, m0, p.Target, false))

	// 3. Should-irrigate check.
	if m0 >= p.Target {
		return Outcome{Status: ResultSkipped, SkipReason: SkipMoistureAtOrAboveTarget, InitialMoisture: m0, FinalMoisture: m0}
	}

	pd := pulseDuration(p.FlowRateLPerS)
	m := m0
	totalWater := 0.0
	pulses := 0

	for m < p.Target && totalWater < p.WaterLimit {
		// a. Cancellation check.
		select {
		case <-ctx.Done():
			ensureClosed(valve)
			return Outcome{Status: ResultCancelled, InitialMoisture: m0, FinalMoisture: m, WaterAddedLiters: totalWater, Pulses: pulses}
		default:
		}

		// b. Open.
		if err := valve.RequestOpen(); err != nil {
			ensureClosed(valve)
			return Outcome{Status: ResultError, Err: actuationError(err, "valve open failed"), InitialMoisture: m0, FinalMoisture: m, WaterAddedLiters: totalWater, Pulses: pulses}
		}

		// c. Cancellable pulse sleep.
		if cancellableSleep(ctx, pd) {
			ensureClosed(valve)
			return Outcome{Status: ResultCancelled, InitialMoisture: m0, FinalMoisture: m, WaterAddedLiters: totalWater, Pulses: pulses}
		}

		// d. Close.
		if err := valve.RequestClose(); err != nil {
			valve.Block()
			ensureClosed(valve)
			return Outcome{Status: ResultError, Err: actuationError(err, "valve close failed"), InitialMoisture: m0, FinalMoisture: m, WaterAddedLiters: totalWater, Pulses: pulses}
		}

		// e. Accounting.
		totalWater += WaterPerPulseLiters
		pulses++

		// f. Inter-pulse pause, then re-read.
		if cancellableSleep(ctx, PauseBetweenPulses) {
			ensureClosed(valve)
			return Outcome{Status: ResultCancelled, InitialMoisture: m0, FinalMoisture: m, WaterAddedLiters: totalWater, Pulses: pulses}
		}
		reading, err := sensor.Read()
		if err != nil {
			ensureClosed(valve)
			return Outcome{Status: ResultError, Err: errs.Wrap(errs.SensorReadFailed, "pulse moisture read failed", err), InitialMoisture: m0, FinalMoisture: m, WaterAddedLiters: totalWater, Pulses: pulses}
		}
		m = reading.MoisturePercent

		// g. Progress.
		emit(pulseProgress(p.PlantID, pulses, m, p.Target, totalWater, p.WaterLimit))
	}

	ensureClosed(valve)

	if m >= p.Target {
		emit(finalSummaryProgress(p.PlantID, m0, m, p.Target, totalWater, pulses, true))
		return Outcome{Status: ResultSuccess, InitialMoisture: m0, FinalMoisture: m, WaterAddedLiters: totalWater, Pulses: pulses}
	}

	// Water-limit exit without reaching target: a fault.
	emit(faultProgress(p.PlantID, m, p.Target, totalWater, p.WaterLimit))
	emit(finalSummaryProgress(p.PlantID, m0, m, p.Target, totalWater, pulses, false))
	return Outcome{Status: ResultFault, InitialMoisture: m0, FinalMoisture: m, WaterAddedLiters: totalWater, Pulses: pulses}
}

// ensureClosed reissues a close as a safety measure on every exit path;
// RequestClose is idempotent and safe to call whether or not the valve is
// currently open.
func ensureClosed(valve ValveController) {
	_ = valve.RequestClose()
}

// actuationError passes an already-classified *errs.Error through
// unchanged (e.g. ValveBlocked, mapped once at the Valve boundary) and
// only wraps genuinely raw driver errors as ValveActuationFault.
func actuationError(err error, message string) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.Wrap(errs.ValveActuationFault, message, err)
}
