package qnsolve

import (
	"encoding/json"
	"math"
	"os"
	"strconv"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

type TraceRecordType int

const (
	SolveType TraceRecordType = iota
	SweepType
)

var trtToStr map[TraceRecordType]string = map[TraceRecordType]string{SolveType: "solve", SweepType: "sweep"}

type TraceInst struct {
	TraceTime string `json:"tracetime" yaml:"tracetime"`
	TraceType string `json:"tracetype" yaml:"tracetype"`
	TraceStr  string `json:"tracestr" yaml:"tracestr"`
}

// NameType is an entry in a dictionary created for a trace
// that maps step numbers to a (name,type) pair
type NameType struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// TraceManager gathers a record of every solve completed during a run,
// keyed by the what-if step that produced it (0 for a single solve)
type TraceManager struct {
	// run uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of the run
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each step
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this run
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the run
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm != nil && tm.InUse
}

// AddTrace creates a record of the trace using its calling arguments, and stores it
func (tm *TraceManager) AddTrace(vrt vrtime.Time, execID int, trace TraceInst) {
	if !tm.Active() {
		return
	}
	tm.Traces[execID] = append(tm.Traces[execID], trace)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file.
// A name already present is left unchanged.
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if !tm.Active() {
		return
	}
	if _, present := tm.NameByID[id]; present {
		return
	}
	tm.NameByID[id] = NameType{Name: name, Type: objDesc}
}

// WriteToFile stores the TraceManager struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
// Nothing is written for an inactive manager.
func (tm *TraceManager) WriteToFile(filename string) error {
	if !tm.Active() {
		return nil
	}
	return writeDesc(filename, *tm)
}

// ReadTraceManager deserializes a trace written by WriteToFile
func ReadTraceManager(filename string, useYAML bool, dict []byte) (*TraceManager, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}
	tm := CreateTraceManager("", false)
	if useYAML {
		err = yaml.Unmarshal(dict, tm)
	} else {
		err = json.Unmarshal(dict, tm)
	}
	if err != nil {
		return nil, err
	}
	return tm, nil
}

// IterationTrace saves the outcome of one solve for post-run analysis
type IterationTrace struct {
	Time       float64     `json:"time" yaml:"time"`   // time in float64
	Ticks      int64       `json:"ticks" yaml:"ticks"` // ticks variable of time
	Priority   int64       `json:"priority" yaml:"priority"`
	Step       int         `json:"step" yaml:"step"`
	Value      float64     `json:"value" yaml:"value"` // swept value applied at this step
	Algorithm  string      `json:"algorithm" yaml:"algorithm"`
	LogG       string      `json:"logg" yaml:"logg"`
	Iterations int         `json:"iterations" yaml:"iterations"`
	Throughput [][]float64 `json:"throughput" yaml:"throughput"`
}

func (itr *IterationTrace) TraceType() TraceRecordType {
	if itr.Step == 0 && itr.Value == 0 {
		return SolveType
	}
	return SweepType
}

func (itr *IterationTrace) Serialize() (string, error) {
	bytes, err := yaml.Marshal(*itr)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// AddResult creates a record of a completed solve and stores it under its step
func (tm *TraceManager) AddResult(vrt vrtime.Time, step int, value float64, res *ResultDesc) {
	if !tm.Active() || res == nil {
		return
	}
	itr := &IterationTrace{
		Time:       vrt.Seconds(),
		Ticks:      vrt.Ticks(),
		Priority:   vrt.Pri(),
		Step:       step,
		Value:      value,
		Algorithm:  res.Algorithm,
		LogG:       formatLogG(res.LogG),
		Iterations: res.Iterations,
		Throughput: res.Throughput,
	}
	itrStr, err := itr.Serialize()
	if err != nil {
		logger.Warn("cannot serialize trace record")
		return
	}
	traceTime := strconv.FormatFloat(vrt.Seconds(), 'f', -1, 64)
	tm.AddTrace(vrt, step, TraceInst{TraceTime: traceTime, TraceType: trtToStr[itr.TraceType()], TraceStr: itrStr})
}

// formatLogG renders NaN and infinities as text so that either codec can carry them
func formatLogG(lg float64) string {
	if math.IsNaN(lg) {
		return "NaN"
	}
	return strconv.FormatFloat(lg, 'g', -1, 64)
}
