package qnsolve

// overlay.go applies lists of parameter assignments to a copy of a model description.
// The base description is never changed; each sweep step solves its own overlay.

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// A Parameter describes one assignment made to a model description. It specifies
//   - Obj identifies the kind of thing being configured : "class" or "station"
//   - Attribute identifies the objects of that kind to which the assignment applies.
//     May be "*" for a wild-card, "name%%xxyy" where "xxyy" is the object's name, or a
//     comma-separated list of other attributes: "type%%open", "type%%queue", and, for
//     stations, "class%%xxyy" limiting a demand assignment to one class
//   - Param is what is set: for classes "value", "scale", or "priority"; for stations
//     "demand", "scale", or "servers"
type Parameter struct {
	Obj       string `json:"obj" yaml:"obj"`
	Attribute string `json:"attribute" yaml:"attribute"`
	Param     string `json:"param" yaml:"param"`
	Value     string `json:"value" yaml:"value"`
}

// CreateParameter is a constructor.  Completely fills in the struct with the [Parameter] attributes.
func CreateParameter(obj, attribute, param, value string) *Parameter {
	return &Parameter{Obj: obj, Attribute: attribute, Param: param, Value: value}
}

// Eq is true when every field of the two parameters agrees
func (prm *Parameter) Eq(other *Parameter) bool {
	return *prm == *other
}

// attrb is one key%%value element of an Attribute
type attrb struct {
	name  string
	value string
}

func parseAttributes(attribute string) []attrb {
	attrbs := []attrb{}
	for _, field := range strings.Split(attribute, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if field == "*" {
			attrbs = append(attrbs, attrb{name: "*"})
			continue
		}
		key, value, _ := strings.Cut(field, "%%")
		attrbs = append(attrbs, attrb{name: key, value: value})
	}
	return attrbs
}

// scope places a parameter in the application order: 0 wildcard, 1 attribute list, 2 named
func (prm *Parameter) scope() int {
	for _, at := range parseAttributes(prm.Attribute) {
		if at.name == "*" {
			return 0
		}
		if at.name == "name" {
			return 2
		}
	}
	return 1
}

// reorderParameters puts the parameters in an order such that the earlier elements
// apply to a broader range of objects than later ones that apply to the same object.
// Wildcards come first, named objects last; exact duplicates are dropped.
func reorderParameters(pL []Parameter) []Parameter {
	ordered := append([]Parameter(nil), pL...)
	sort.SliceStable(ordered, func(i, j int) bool {
		si, sj := ordered[i].scope(), ordered[j].scope()
		if si != sj {
			return si < sj
		}
		if ordered[i].Attribute != ordered[j].Attribute {
			return ordered[i].Attribute < ordered[j].Attribute
		}
		return ordered[i].Param < ordered[j].Param
	})

	// get rid of duplicates
	for idx := len(ordered) - 1; idx > 0; idx-- {
		if ordered[idx].Eq(&ordered[idx-1]) {
			ordered = append(ordered[:idx], ordered[idx+1:]...)
		}
	}
	return ordered
}

// ApplyParameters returns a copy of md with the parameters applied in broad-to-narrow order
func ApplyParameters(md *ModelDesc, params []Parameter) (*ModelDesc, error) {
	overlay := md.Clone()
	errs := []error{}
	for _, prm := range reorderParameters(params) {
		var err error
		switch prm.Obj {
		case "class":
			err = applyClassParameter(overlay, &prm)
		case "station":
			err = applyStationParameter(overlay, &prm)
		default:
			err = fmt.Errorf("parameter object %q is neither class nor station", prm.Obj)
		}
		errs = append(errs, err)
	}
	if err := ReportErrs(errs); err != nil {
		return nil, err
	}
	return overlay, nil
}

func classMatches(cd *ClassDesc, attrbs []attrb) bool {
	for _, at := range attrbs {
		switch at.name {
		case "*":
		case "name":
			if cd.Name != at.value {
				return false
			}
		case "type":
			if cd.Type != at.value {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func stationMatches(sd *StationDesc, attrbs []attrb) bool {
	for _, at := range attrbs {
		switch at.name {
		case "*", "class":
		case "name":
			if sd.Name != at.value {
				return false
			}
		case "type":
			if sd.Type != at.value && !(at.value == QueueStation && sd.Type == "") {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func applyClassParameter(md *ModelDesc, prm *Parameter) error {
	attrbs := parseAttributes(prm.Attribute)
	matched := 0
	for r := range md.Classes {
		cd := &md.Classes[r]
		if !classMatches(cd, attrbs) {
			continue
		}
		matched += 1
		switch prm.Param {
		case "value", "scale":
			v, err := strconv.ParseFloat(prm.Value, 64)
			if err != nil {
				return fmt.Errorf("class %s parameter %s: %w", cd.Name, prm.Param, err)
			}
			if prm.Param == "scale" {
				v *= cd.Value()
			}
			cd.SetValue(v)
		case "priority":
			p, err := strconv.Atoi(prm.Value)
			if err != nil {
				return fmt.Errorf("class %s priority: %w", cd.Name, err)
			}
			cd.Priority = p
		default:
			return fmt.Errorf("unknown class parameter %q", prm.Param)
		}
	}
	if matched == 0 {
		return fmt.Errorf("class attribute %q matches no class", prm.Attribute)
	}
	return nil
}

func applyStationParameter(md *ModelDesc, prm *Parameter) error {
	attrbs := parseAttributes(prm.Attribute)
	classes := []int{}
	for _, at := range attrbs {
		if at.name != "class" {
			continue
		}
		r := md.ClassIndex(at.value)
		if r < 0 {
			return fmt.Errorf("station attribute names unknown class %s", at.value)
		}
		classes = append(classes, r)
	}
	if len(classes) == 0 {
		for r := range md.Classes {
			classes = append(classes, r)
		}
	}

	matched := 0
	for k := range md.Stations {
		sd := &md.Stations[k]
		if !stationMatches(sd, attrbs) {
			continue
		}
		matched += 1
		switch prm.Param {
		case "demand", "scale":
			v, err := strconv.ParseFloat(prm.Value, 64)
			if err != nil {
				return fmt.Errorf("station %s parameter %s: %w", sd.Name, prm.Param, err)
			}
			for _, r := range classes {
				if prm.Param == "scale" {
					md.ServiceTimes[k][r] *= v
					continue
				}
				setDemand(md, k, r, v)
			}
		case "servers":
			c, err := strconv.Atoi(prm.Value)
			if err != nil {
				return fmt.Errorf("station %s servers: %w", sd.Name, err)
			}
			if c < 1 {
				return errors.New("station server count must be at least 1")
			}
			sd.Servers = c
		default:
			return fmt.Errorf("unknown station parameter %q", prm.Param)
		}
	}
	if matched == 0 {
		return fmt.Errorf("station attribute %q matches no station", prm.Attribute)
	}
	return nil
}

// setDemand sets the service demand of class r at station k, keeping its visit ratio
// when it has one
func setDemand(md *ModelDesc, k, r int, demand float64) {
	if md.Visits[k][r] > 0 {
		md.ServiceTimes[k][r] = demand / md.Visits[k][r]
		return
	}
	md.Visits[k][r] = 1
	md.ServiceTimes[k][r] = demand
}
