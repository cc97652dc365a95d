package qnsolve

// whatif.go holds the what-if controller, which re-solves a model once for every value
// of a swept parameter.  Each step builds an overlay of the base description with the
// swept value applied, solves the overlay, and discards it, so the base description is
// the same after a sweep as before it however the sweep ends.  Stop is cooperative: it
// is observed between steps, never inside a solve.

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/iti/evt/evtm"
	"go.uber.org/zap"
)

// Dimension names the model input a sweep varies
type Dimension int

const (
	Arrival Dimension = iota
	Customers
	Demands
	Mix
)

var dimensionNames = []string{"ARRIVAL", "CUSTOMERS", "DEMANDS", "MIX"}

func (dim Dimension) String() string {
	if dim < 0 || int(dim) >= len(dimensionNames) {
		return "UNKNOWN"
	}
	return dimensionNames[dim]
}

// ParseDimension converts a name such as "arrival" or "MIX" into a Dimension
func ParseDimension(name string) (Dimension, error) {
	for idx, dn := range dimensionNames {
		if strings.EqualFold(dn, strings.TrimSpace(name)) {
			return Dimension(idx), nil
		}
	}
	return Arrival, fmt.Errorf("unknown what-if dimension %q", name)
}

// MarshalText writes the dimension by name
func (dim Dimension) MarshalText() ([]byte, error) {
	return []byte(dim.String()), nil
}

// UnmarshalText reads a dimension by name, ignoring case
func (dim *Dimension) UnmarshalText(text []byte) error {
	parsed, err := ParseDimension(string(text))
	if err != nil {
		return err
	}
	*dim = parsed
	return nil
}

// SweepSpec describes a sweep.  Class and Station select a single target, or all
// applicable objects when negative.  With a single target the values are absolute;
// otherwise they multiply the base values.  For Demands the target is the station: a
// named station takes the value as the demand of every class it serves (or of the
// named class only), while a sweep over all stations multiplies their demands, for the
// named class only when one is given.  For Mix the values are the fraction of the
// total closed population assigned to the target class, the first closed class by default.
type SweepSpec struct {
	Dimension Dimension `json:"dimension" yaml:"dimension"`
	Class     int       `json:"class" yaml:"class"`
	Station   int       `json:"station" yaml:"station"`
	Values    []float64 `json:"values" yaml:"values"`
}

// SweepState is the lifecycle state of a Controller
type SweepState int32

const (
	Idle SweepState = iota
	Running
	Completed
	Cancelled
	Failed
)

func (st SweepState) String() string {
	switch st {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	case Cancelled:
		return "CANCELLED"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// MarshalText writes the state by name
func (st SweepState) MarshalText() ([]byte, error) {
	return []byte(st.String()), nil
}

// UnmarshalText reads a state written by MarshalText
func (st *SweepState) UnmarshalText(text []byte) error {
	for cand := Idle; cand <= Failed; cand++ {
		if cand.String() == string(text) {
			*st = cand
			return nil
		}
	}
	return fmt.Errorf("unknown sweep state %q", text)
}

// SweepResult holds one result per completed step.  OK is true only when every step
// completed; a cancelled or failed sweep keeps the results it had but is not OK.
type SweepResult struct {
	RunID   string        `json:"runid" yaml:"runid"`
	Spec    SweepSpec     `json:"spec" yaml:"spec"`
	Results []*ResultDesc `json:"results" yaml:"results"`
	State   SweepState    `json:"state" yaml:"state"`
	OK      bool          `json:"ok" yaml:"ok"`
}

// WriteToFile stores the SweepResult to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (sr *SweepResult) WriteToFile(filename string) error {
	return writeDesc(filename, *sr)
}

// Controller runs sweeps over a base description that it never modifies
type Controller struct {
	base  *ModelDesc
	opts  *solveOptions
	state atomic.Int32
	stop  atomic.Bool
}

// NewController is a constructor
func NewController(base *ModelDesc, opts ...SolveOption) *Controller {
	return &Controller{base: base, opts: buildOptions(opts)}
}

// State returns the controller's lifecycle state
func (ctrl *Controller) State() SweepState {
	return SweepState(ctrl.state.Load())
}

// Stop asks a running sweep to end before its next step.  A Stop made while no sweep
// is running has no effect on the next Run.
func (ctrl *Controller) Stop() {
	ctrl.stop.Store(true)
}

// Run executes the sweep, one solve per value, strictly in sequence.  The error is
// the first fatal error met, tagged with its step; cancellation is not an error.
// Run clears any earlier Stop; a nil ctx is treated as context.Background().
func (ctrl *Controller) Run(ctx context.Context, spec SweepSpec) (*SweepResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		cur := ctrl.state.Load()
		if SweepState(cur) == Running {
			return nil, solverErr(nil, "a sweep is already running")
		}
		if ctrl.state.CompareAndSwap(cur, int32(Running)) {
			break
		}
	}
	ctrl.stop.Store(false)

	sr := &SweepResult{RunID: uuid.New().String(), Spec: spec}
	log := logger.With(zap.String("run", sr.RunID), zap.String("dimension", spec.Dimension.String()))

	if err := ctrl.checkSpec(&spec); err != nil {
		ctrl.finish(sr, Failed)
		log.Info("sweep rejected", zap.Error(err))
		return sr, err
	}

	ctrl.opts.trace.AddName(-1, ctrl.base.Name, "sweep "+sr.RunID)
	var failure error
	cancelled := false
	exec := func(evtMgr *evtm.EventManager, task *StepTask) bool {
		if ctrl.stop.Load() || ctx.Err() != nil {
			cancelled = true
			return false
		}
		res, err := ctrl.step(&spec, task)
		if err != nil {
			failure = atStep(err, task.Idx)
			return false
		}
		sr.Results = append(sr.Results, res)
		ctrl.opts.metrics.observeStep()
		ctrl.opts.trace.AddName(task.Idx, ctrl.base.Name+"@"+strconv.FormatFloat(task.Value, 'g', -1, 64), spec.Dimension.String())
		ctrl.opts.trace.AddResult(evtMgr.CurrentTime(), task.Idx, task.Value, res)
		if ctrl.opts.onIteration != nil {
			ctrl.opts.onIteration(task.Idx, res)
		}
		log.Debug("sweep step completed", zap.Int("step", task.Idx), zap.Float64("value", task.Value))

		// a stop that arrives during the last step leaves nothing to cancel
		if ctrl.stop.Load() || ctx.Err() != nil {
			cancelled = task.Idx < len(spec.Values)-1
			return false
		}
		return true
	}
	CreateStepScheduler(spec.Values, exec).Run()

	switch {
	case failure != nil:
		ctrl.finish(sr, Failed)
		log.Info("sweep failed", zap.Error(failure))
		return sr, failure
	case cancelled:
		ctrl.finish(sr, Cancelled)
		log.Warn("sweep cancelled", zap.Int("completed", len(sr.Results)))
		return sr, nil
	}
	ctrl.finish(sr, Completed)
	log.Info("sweep completed", zap.Int("steps", len(sr.Results)))
	return sr, nil
}

func (ctrl *Controller) finish(sr *SweepResult, state SweepState) {
	sr.State = state
	sr.OK = state == Completed
	ctrl.state.Store(int32(state))
	ctrl.opts.metrics.observeSweep(state)
}

// step builds the overlay for one value and solves it
func (ctrl *Controller) step(spec *SweepSpec, task *StepTask) (*ResultDesc, error) {
	params, err := ctrl.stepParameters(spec, task.Value)
	if err != nil {
		return nil, err
	}
	overlay, err := ApplyParameters(ctrl.base, params)
	if err != nil {
		return nil, inputDataErr("%s", err.Error())
	}
	return solveDesc(overlay, ctrl.opts)
}

// checkSpec applies the legality checks that do not depend on the swept value
func (ctrl *Controller) checkSpec(spec *SweepSpec) error {
	md := ctrl.base
	if len(spec.Values) == 0 {
		return inputDataErr("sweep has no values")
	}
	if spec.Class >= len(md.Classes) || spec.Station >= len(md.Stations) {
		return inputDataErr("sweep target is out of range")
	}
	switch spec.Dimension {
	case Arrival:
		if len(md.OpenClasses()) == 0 {
			return inputDataErr("arrival rate sweep needs an open class")
		}
		if spec.Class >= 0 && !md.Classes[spec.Class].IsOpen() {
			return inputDataErr("class %s is not open", md.Classes[spec.Class].Name)
		}
	case Customers:
		if len(md.ClosedClasses()) == 0 {
			return inputDataErr("population sweep needs a closed class")
		}
		if spec.Class >= 0 && md.Classes[spec.Class].IsOpen() {
			return inputDataErr("class %s is not closed", md.Classes[spec.Class].Name)
		}
	case Demands:
		if spec.Station >= 0 && md.Stations[spec.Station].IsLoadDependent() {
			return inputDataErr("station %s is load dependent; its demands cannot be swept", md.Stations[spec.Station].Name)
		}
	case Mix:
		closed := md.ClosedClasses()
		if len(closed) != 2 {
			return inputDataErr("population mix sweep needs exactly two closed classes, model has %d", len(closed))
		}
		if spec.Class >= 0 && md.Classes[spec.Class].IsOpen() {
			return inputDataErr("class %s is not closed", md.Classes[spec.Class].Name)
		}
	default:
		return inputDataErr("unknown sweep dimension %d", spec.Dimension)
	}
	return nil
}

// integralPopulation rounds a swept population, rejecting one that is not an integer
func integralPopulation(v float64, class string) (float64, error) {
	if v <= 0 {
		return 0, inputDataErr("population %v of class %s is not positive", v, class)
	}
	rounded := math.Round(v)
	if math.Abs(v-rounded) > populationTolerance {
		return 0, inputDataErr("population %.6g of class %s is not an integer", v, class)
	}
	return rounded, nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// stepParameters converts one swept value into overlay parameters
func (ctrl *Controller) stepParameters(spec *SweepSpec, value float64) ([]Parameter, error) {
	md := ctrl.base
	switch spec.Dimension {
	case Arrival:
		if value <= 0 {
			return nil, inputDataErr("arrival rate value %v is not positive", value)
		}
		if spec.Class >= 0 {
			return []Parameter{{Obj: "class", Attribute: "name%%" + md.Classes[spec.Class].Name, Param: "value", Value: formatValue(value)}}, nil
		}
		return []Parameter{{Obj: "class", Attribute: "type%%" + OpenClass, Param: "scale", Value: formatValue(value)}}, nil

	case Customers:
		if value <= 0 {
			return nil, inputDataErr("population value %v is not positive", value)
		}
		targets := md.ClosedClasses()
		if spec.Class >= 0 {
			targets = []int{spec.Class}
		}
		params := []Parameter{}
		for _, r := range targets {
			cd := &md.Classes[r]
			pop := value
			if spec.Class < 0 {
				pop = value * cd.Population
			}
			rounded, err := integralPopulation(pop, cd.Name)
			if err != nil {
				return nil, err
			}
			params = append(params, Parameter{Obj: "class", Attribute: "name%%" + cd.Name, Param: "value", Value: formatValue(rounded)})
		}
		return params, nil

	case Demands:
		if value < 0 {
			return nil, inputDataErr("demand value %v is negative", value)
		}
		classAttrb := ""
		if spec.Class >= 0 {
			classAttrb = ",class%%" + md.Classes[spec.Class].Name
		}
		if spec.Station >= 0 {
			sd := &md.Stations[spec.Station]
			if spec.Class >= 0 {
				return []Parameter{{Obj: "station", Attribute: "name%%" + sd.Name + classAttrb, Param: "demand", Value: formatValue(value)}}, nil
			}
			params := []Parameter{}
			for r := range md.Classes {
				if md.Demand(spec.Station, r) == 0 {
					continue
				}
				params = append(params, Parameter{Obj: "station", Attribute: "name%%" + sd.Name + ",class%%" + md.Classes[r].Name,
					Param: "demand", Value: formatValue(value)})
			}
			if len(params) == 0 {
				return nil, inputDataErr("station %s serves no class", sd.Name)
			}
			return params, nil
		}
		params := []Parameter{}
		for k := range md.Stations {
			sd := &md.Stations[k]
			if sd.IsLoadDependent() {
				continue
			}
			params = append(params, Parameter{Obj: "station", Attribute: "name%%" + sd.Name + classAttrb, Param: "scale", Value: formatValue(value)})
		}
		if len(params) == 0 {
			return nil, inputDataErr("model has no station whose demands can be swept")
		}
		return params, nil

	case Mix:
		closed := md.ClosedClasses()
		target, other := closed[0], closed[1]
		if spec.Class == closed[1] {
			target, other = closed[1], closed[0]
		}
		if value <= 0 || value >= 1 {
			return nil, inputDataErr("population mix %v leaves a class without customers", value)
		}
		N := md.Classes[target].Population + md.Classes[other].Population
		na, err := integralPopulation(value*N, md.Classes[target].Name)
		if err != nil {
			return nil, err
		}
		nb, err := integralPopulation(N-na, md.Classes[other].Name)
		if err != nil {
			return nil, err
		}
		return []Parameter{
			{Obj: "class", Attribute: "name%%" + md.Classes[target].Name, Param: "value", Value: formatValue(na)},
			{Obj: "class", Attribute: "name%%" + md.Classes[other].Name, Param: "value", Value: formatValue(nb)},
		}, nil
	}
	return nil, inputDataErr("unknown sweep dimension %d", spec.Dimension)
}
