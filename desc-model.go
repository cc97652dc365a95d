package qnsolve

// desc-model.go holds the serializable description of a queueing network model,
// the Frame structures used to build one, and functions that read and write
// descriptions to file

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// station types recognized in a StationDesc
const (
	QueueStation = "queue"
	DelayStation = "delay"
)

// class types recognized in a ClassDesc
const (
	ClosedClass = "closed"
	OpenClass   = "open"
)

// logistic transforms selectable for the Monte Carlo logistic solver
const (
	AdditiveTransform       = "additive"
	MultiplicativeTransform = "multiplicative"
)

// default numerical parameters applied when a description leaves them at zero
const (
	DefaultTolerance     = 1e-7
	DefaultMaxIterations = 10000
	DefaultMaxSamples    = 10000
	DefaultPrecision     = 34
)

// populationTolerance bounds how far a closed population may be from an integer
const populationTolerance = 1e-8

// ModelKind classifies a model by the types of its classes
type ModelKind int

const (
	ClosedModel ModelKind = iota
	OpenModel
	MixedModel
)

func (mk ModelKind) String() string {
	switch mk {
	case ClosedModel:
		return "closed"
	case OpenModel:
		return "open"
	default:
		return "mixed"
	}
}

// StationDesc describes one service center.  Servers larger than one marks
// the station as load-dependent (multi-server).
type StationDesc struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	Servers int    `json:"servers" yaml:"servers"`
}

// IsDelay reports whether the station is an infinite-server station
func (sd *StationDesc) IsDelay() bool {
	return sd.Type == DelayStation
}

// IsLoadDependent reports whether the station is a queueing station with more than one server
func (sd *StationDesc) IsLoadDependent() bool {
	return !sd.IsDelay() && sd.Servers > 1
}

// ClassDesc describes one customer class.  A closed class carries a population,
// an open class carries an arrival rate.  Routing is optional; when present it
// is a square matrix of routing probabilities among stations and is used to
// derive the class's column of visit ratios, relative to RefStation.
type ClassDesc struct {
	Name       string      `json:"name" yaml:"name"`
	Type       string      `json:"type" yaml:"type"`
	Population float64     `json:"population,omitempty" yaml:"population,omitempty"`
	Rate       float64     `json:"rate,omitempty" yaml:"rate,omitempty"`
	Priority   int         `json:"priority,omitempty" yaml:"priority,omitempty"`
	RefStation string      `json:"refstation,omitempty" yaml:"refstation,omitempty"`
	Routing    [][]float64 `json:"routing,omitempty" yaml:"routing,omitempty"`
}

// IsOpen reports whether the class is open
func (cd *ClassDesc) IsOpen() bool {
	return cd.Type == OpenClass
}

// Value returns the population of a closed class or the arrival rate of an open one
func (cd *ClassDesc) Value() float64 {
	if cd.IsOpen() {
		return cd.Rate
	}
	return cd.Population
}

// SetValue sets the population of a closed class or the arrival rate of an open one
func (cd *ClassDesc) SetValue(v float64) {
	if cd.IsOpen() {
		cd.Rate = v
	} else {
		cd.Population = v
	}
}

// ResultDesc is the serializable form of a solution, written back into the
// ModelDesc that was solved
type ResultDesc struct {
	Algorithm     string      `json:"algorithm" yaml:"algorithm"`
	QueueLength   [][]float64 `json:"queuelength" yaml:"queuelength"`
	Throughput    [][]float64 `json:"throughput" yaml:"throughput"`
	ResidenceTime [][]float64 `json:"residencetime" yaml:"residencetime"`
	Utilization   [][]float64 `json:"utilization" yaml:"utilization"`
	LogG          float64     `json:"logg" yaml:"logg"`
	Iterations    int         `json:"iterations" yaml:"iterations"`
}

// MarshalJSON writes a log-normalizing constant that is NaN or infinite as null,
// since json has no representation for either
func (rd ResultDesc) MarshalJSON() ([]byte, error) {
	type plain ResultDesc
	aux := struct {
		plain
		LogG *float64 `json:"logg"`
	}{plain: plain(rd)}
	if !math.IsNaN(rd.LogG) && !math.IsInf(rd.LogG, 0) {
		lg := rd.LogG
		aux.LogG = &lg
	}
	return json.Marshal(aux)
}

// UnmarshalJSON reads a null log-normalizing constant as NaN
func (rd *ResultDesc) UnmarshalJSON(data []byte) error {
	type plain ResultDesc
	aux := struct {
		*plain
		LogG *float64 `json:"logg"`
	}{plain: (*plain)(rd)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	rd.LogG = math.NaN()
	if aux.LogG != nil {
		rd.LogG = *aux.LogG
	}
	return nil
}

// ModelDesc is the pointer-free description of a queueing network and the
// numerical parameters of its solution.  ServiceTimes and Visits are indexed
// [station][class]; the service demand is their product and is never stored.
type ModelDesc struct {
	Name          string        `json:"name" yaml:"name"`
	Stations      []StationDesc `json:"stations" yaml:"stations"`
	Classes       []ClassDesc   `json:"classes" yaml:"classes"`
	ServiceTimes  [][]float64   `json:"servicetimes" yaml:"servicetimes"`
	Visits        [][]float64   `json:"visits" yaml:"visits"`
	Algorithm     string        `json:"algorithm" yaml:"algorithm"`
	Tolerance     float64       `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	MaxIterations int           `json:"maxiterations,omitempty" yaml:"maxiterations,omitempty"`
	MaxSamples    int           `json:"maxsamples,omitempty" yaml:"maxsamples,omitempty"`
	Seed          uint64        `json:"seed,omitempty" yaml:"seed,omitempty"`
	Threads       int           `json:"threads,omitempty" yaml:"threads,omitempty"`
	Precision     uint32        `json:"precision,omitempty" yaml:"precision,omitempty"`
	Transform     string        `json:"transform,omitempty" yaml:"transform,omitempty"`
	Result        *ResultDesc   `json:"result,omitempty" yaml:"result,omitempty"`
}

// Demand returns the service demand of class r at station k
func (md *ModelDesc) Demand(k, r int) float64 {
	return md.ServiceTimes[k][r] * md.Visits[k][r]
}

// Demands returns the [station][class] matrix of service demands
func (md *ModelDesc) Demands() [][]float64 {
	dmds := make([][]float64, len(md.Stations))
	for k := range md.Stations {
		dmds[k] = make([]float64, len(md.Classes))
		for r := range md.Classes {
			dmds[k][r] = md.Demand(k, r)
		}
	}
	return dmds
}

// Kind reports whether the model is closed, open, or mixed
func (md *ModelDesc) Kind() ModelKind {
	open, closed := 0, 0
	for idx := range md.Classes {
		if md.Classes[idx].IsOpen() {
			open += 1
		} else {
			closed += 1
		}
	}
	if open == 0 {
		return ClosedModel
	}
	if closed == 0 {
		return OpenModel
	}
	return MixedModel
}

// HasLoadDependent reports whether some station has more than one server
func (md *ModelDesc) HasLoadDependent() bool {
	for idx := range md.Stations {
		if md.Stations[idx].IsLoadDependent() {
			return true
		}
	}
	return false
}

// HasPriorities reports whether some class carries a non-default priority
func (md *ModelDesc) HasPriorities() bool {
	for idx := range md.Classes {
		if md.Classes[idx].Priority != 0 {
			return true
		}
	}
	return false
}

// ClosedClasses returns the indices of the closed classes
func (md *ModelDesc) ClosedClasses() []int {
	idxs := []int{}
	for idx := range md.Classes {
		if !md.Classes[idx].IsOpen() {
			idxs = append(idxs, idx)
		}
	}
	return idxs
}

// OpenClasses returns the indices of the open classes
func (md *ModelDesc) OpenClasses() []int {
	idxs := []int{}
	for idx := range md.Classes {
		if md.Classes[idx].IsOpen() {
			idxs = append(idxs, idx)
		}
	}
	return idxs
}

// StationIndex returns the index of the named station, or -1
func (md *ModelDesc) StationIndex(name string) int {
	return slices.IndexFunc(md.Stations, func(sd StationDesc) bool { return sd.Name == name })
}

// ClassIndex returns the index of the named class, or -1
func (md *ModelDesc) ClassIndex(name string) int {
	return slices.IndexFunc(md.Classes, func(cd ClassDesc) bool { return cd.Name == name })
}

// Clone returns a deep copy of the description.  The Result is not carried over.
func (md *ModelDesc) Clone() *ModelDesc {
	cp := *md
	cp.Stations = slices.Clone(md.Stations)
	cp.Classes = make([]ClassDesc, len(md.Classes))
	for idx, cd := range md.Classes {
		cp.Classes[idx] = cd
		cp.Classes[idx].Routing = cloneMatrix(cd.Routing)
	}
	cp.ServiceTimes = cloneMatrix(md.ServiceTimes)
	cp.Visits = cloneMatrix(md.Visits)
	cp.Result = nil
	return &cp
}

func cloneMatrix(m [][]float64) [][]float64 {
	if m == nil {
		return nil
	}
	cp := make([][]float64, len(m))
	for idx := range m {
		cp[idx] = slices.Clone(m[idx])
	}
	return cp
}

// withDefaults fills in zero-valued numerical parameters
func (md *ModelDesc) withDefaults() {
	if md.Tolerance <= 0 {
		md.Tolerance = DefaultTolerance
	}
	if md.MaxIterations <= 0 {
		md.MaxIterations = DefaultMaxIterations
	}
	if md.MaxSamples <= 0 {
		md.MaxSamples = DefaultMaxSamples
	}
	if md.Precision == 0 {
		md.Precision = DefaultPrecision
	}
	if md.Threads <= 0 {
		md.Threads = 1
	}
	if md.Transform == "" {
		md.Transform = AdditiveTransform
	}
	for idx := range md.Stations {
		if md.Stations[idx].Servers < 1 {
			md.Stations[idx].Servers = 1
		}
		if md.Stations[idx].Type == "" {
			md.Stations[idx].Type = QueueStation
		}
	}
}

// ValidateModel checks the structural invariants of the description: every
// station has exactly one service time and one visit ratio per class, none of them
// negative, and the station and class types are recognized. Value checks on
// populations and rates are left to the compatibility check, which reports them
// as input data errors.
func ValidateModel(md *ModelDesc) error {
	errs := []error{}
	if len(md.Stations) == 0 {
		errs = append(errs, errors.New("model has no stations"))
	}
	if len(md.Classes) == 0 {
		errs = append(errs, errors.New("model has no classes"))
	}
	for _, sd := range md.Stations {
		if sd.Type != QueueStation && sd.Type != DelayStation && sd.Type != "" {
			errs = append(errs, fmt.Errorf("station %s has unknown type %q", sd.Name, sd.Type))
		}
		if sd.Servers < 0 {
			errs = append(errs, fmt.Errorf("station %s has negative server count", sd.Name))
		}
	}
	for _, cd := range md.Classes {
		if cd.Type != ClosedClass && cd.Type != OpenClass {
			errs = append(errs, fmt.Errorf("class %s has unknown type %q", cd.Name, cd.Type))
		}
	}
	errs = append(errs, checkMatrix("service time", md.ServiceTimes, len(md.Stations), len(md.Classes)))
	errs = append(errs, checkMatrix("visit", md.Visits, len(md.Stations), len(md.Classes)))
	return ReportErrs(errs)
}

func checkMatrix(label string, m [][]float64, rows, cols int) error {
	if len(m) != rows {
		return fmt.Errorf("%s matrix has %d rows, expected %d", label, len(m), rows)
	}
	for k, row := range m {
		if len(row) != cols {
			return fmt.Errorf("%s matrix row %d has %d entries, expected %d", label, k, len(row), cols)
		}
		for r, v := range row {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%s [%d][%d] = %v is not a non-negative number", label, k, r, v)
			}
		}
	}
	return nil
}

// The model descriptions are built most easily with pointers while stations and classes
// are being added, and serialized most easily without them.  We follow the convention
// of a 'Frame' structure holding the pointers during construction, and a 'Desc'
// structure with no pointers produced from it by Transform.

// ModelFrame accumulates the stations, classes, and per-pair service parameters of a model
type ModelFrame struct {
	Name     string
	Stations []*StationDesc
	Classes  []*ClassDesc

	// keyed by station name then class name
	svcTime map[string]map[string]float64
	visits  map[string]map[string]float64
}

// CreateModelFrame is a constructor
func CreateModelFrame(name string) *ModelFrame {
	mf := new(ModelFrame)
	mf.Name = name
	mf.Stations = make([]*StationDesc, 0)
	mf.Classes = make([]*ClassDesc, 0)
	mf.svcTime = make(map[string]map[string]float64)
	mf.visits = make(map[string]map[string]float64)
	return mf
}

// AddStation includes a station with the given type and number of servers
func (mf *ModelFrame) AddStation(name, stationType string, servers int) *StationDesc {
	sd := &StationDesc{Name: name, Type: stationType, Servers: servers}
	mf.Stations = append(mf.Stations, sd)
	mf.svcTime[name] = make(map[string]float64)
	mf.visits[name] = make(map[string]float64)
	return sd
}

// AddClosedClass includes a closed class with the given population
func (mf *ModelFrame) AddClosedClass(name string, population float64) *ClassDesc {
	cd := &ClassDesc{Name: name, Type: ClosedClass, Population: population}
	mf.Classes = append(mf.Classes, cd)
	return cd
}

// AddOpenClass includes an open class with the given arrival rate
func (mf *ModelFrame) AddOpenClass(name string, rate float64) *ClassDesc {
	cd := &ClassDesc{Name: name, Type: OpenClass, Rate: rate}
	mf.Classes = append(mf.Classes, cd)
	return cd
}

// SetService records the service time and visit ratio of a class at a station.
// An error is returned if either name is unknown.
func (mf *ModelFrame) SetService(station, class string, svcTime, visits float64) error {
	_, present := mf.svcTime[station]
	if !present {
		return fmt.Errorf("station %s not in model frame %s", station, mf.Name)
	}
	if !slices.ContainsFunc(mf.Classes, func(cd *ClassDesc) bool { return cd.Name == class }) {
		return fmt.Errorf("class %s not in model frame %s", class, mf.Name)
	}
	mf.svcTime[station][class] = svcTime
	mf.visits[station][class] = visits
	return nil
}

// Transform returns the pointer-free ModelDesc.  Pairs never given a service
// time are recorded with zero service time and unit visit ratio.
func (mf *ModelFrame) Transform() ModelDesc {
	md := ModelDesc{Name: mf.Name}
	md.Stations = make([]StationDesc, len(mf.Stations))
	md.Classes = make([]ClassDesc, len(mf.Classes))
	for idx, cd := range mf.Classes {
		md.Classes[idx] = *cd
	}
	md.ServiceTimes = make([][]float64, len(mf.Stations))
	md.Visits = make([][]float64, len(mf.Stations))
	for k, sd := range mf.Stations {
		md.Stations[k] = *sd
		md.ServiceTimes[k] = make([]float64, len(mf.Classes))
		md.Visits[k] = make([]float64, len(mf.Classes))
		for r, cd := range mf.Classes {
			md.ServiceTimes[k][r] = mf.svcTime[sd.Name][cd.Name]
			v, present := mf.visits[sd.Name][cd.Name]
			if !present {
				v = 1.0
			}
			md.Visits[k][r] = v
		}
	}
	return md
}

// useYAMLFor selects the serialization from the extension of a file name
func useYAMLFor(filename string) (bool, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".yaml", ".yml":
		return true, nil
	case ".json":
		return false, nil
	}
	return false, fmt.Errorf("file %s has neither a yaml nor a json extension", filename)
}

// writeDesc serializes a value to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func writeDesc(filename string, v any) error {
	useYAML, err := useYAMLFor(filename)
	if err != nil {
		return err
	}

	var bytes []byte
	if useYAML {
		bytes, err = yaml.Marshal(v)
	} else {
		bytes, err = json.MarshalIndent(v, "", "\t")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, bytes, 0o644)
}

// WriteToFile stores the ModelDesc struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (md *ModelDesc) WriteToFile(filename string) error {
	return writeDesc(filename, *md)
}

// ReadModelDesc deserializes a byte slice holding a representation of a ModelDesc struct.
// If the input argument of dict (those bytes) is empty, the file whose name is given is read
// to acquire them.  A deserialized representation is returned, or an error if one is generated
// from a file read or the deserialization.
func ReadModelDesc(filename string, useYAML bool, dict []byte) (*ModelDesc, error) {
	var err error

	// if the dict slice of bytes is empty we get them from the file whose name is an argument
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ModelDesc{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}

	return &example, nil
}

// LoadModelDesc reads a description from file choosing the codec from its extension,
// derives visit ratios for classes that carry a routing matrix, and validates it
func LoadModelDesc(filename string) (*ModelDesc, error) {
	useYAML, err := useYAMLFor(filename)
	if err != nil {
		return nil, err
	}
	md, err := ReadModelDesc(filename, useYAML, nil)
	if err != nil {
		return nil, err
	}
	if err := DeriveVisits(md); err != nil {
		return nil, err
	}
	if err := ValidateModel(md); err != nil {
		return nil, err
	}
	return md, nil
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}
