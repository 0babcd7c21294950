// Package validate runs data-quality checks over stored tables and
// aggregates them into a report with recommendations.
//
// Checks are a closed set (CheckID) mapped through a registry to their
// category, the minimum Level that enables them, and their implementation.
// A check that errors or panics only turns its own result into StatusError.
package validate

import (
	"context"
	"fmt"
	"strings"

	"ipeds/internal/ipedserr"
)

// Level selects a nested checklist: Basic ⊂ Standard ⊂ Comprehensive.
type Level int

const (
	Basic Level = iota
	Standard
	Comprehensive
)

var levelNames = [...]string{Basic: "basic", Standard: "standard", Comprehensive: "comprehensive"}

func (l Level) String() string {
	if l < 0 || int(l) >= len(levelNames) {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// MarshalText renders the level name in JSON reports.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// ParseLevel parses "basic", "standard" or "comprehensive".
func ParseLevel(s string) (Level, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == k {
			return Level(i), nil
		}
	}
	return 0, ipedserr.Newf(ipedserr.CodeInvalidArgument, "unknown validation level %q (want basic, standard or comprehensive)", s)
}

// Status is the outcome of one check or of a whole table.
type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusFail    Status = "fail"
	StatusError   Status = "error"
)

func (s Status) rank() int {
	switch s {
	case StatusError:
		return 3
	case StatusFail:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

// Worst returns the more severe of a and b: error > fail > warning > pass.
func Worst(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Category groups checks in reports.
type Category string

const (
	CategoryStructure    Category = "structure"
	CategoryCompleteness Category = "completeness"
	CategoryConsistency  Category = "consistency"
	CategoryIntegrity    Category = "integrity"
	CategoryQuality      Category = "quality"
)

// CheckID identifies a check.
type CheckID int

const (
	CheckExistence CheckID = iota
	CheckIDCompleteness
	CheckIDRange
	CheckYearConsistency
	CheckDuplicates
	CheckNullRates
	CheckColumnTypes
	CheckCompleteness
	CheckSchemaDrift
	CheckReferentialIntegrity
	CheckValueRanges
	CheckEncoding
	CheckOutliers

	numChecks
)

// checkFunc inspects one table. It returns the status and a message, or an
// error when the check itself could not run.
type checkFunc func(ctx context.Context, e *Engine, t *target) (Status, string, map[string]any, error)

type checkSpec struct {
	name     string
	category Category
	minLevel Level
	run      checkFunc
}

// registry is indexed by CheckID; init verifies it is complete.
var registry [numChecks]checkSpec

func init() {
	registry = [numChecks]checkSpec{
		CheckExistence:            {"existence", CategoryStructure, Basic, checkExistence},
		CheckIDCompleteness:       {"id_completeness", CategoryCompleteness, Basic, checkIDCompleteness},
		CheckIDRange:              {"id_range", CategoryIntegrity, Basic, checkIDRange},
		CheckYearConsistency:      {"year_consistency", CategoryConsistency, Basic, checkYearConsistency},
		CheckDuplicates:           {"duplicates", CategoryIntegrity, Standard, checkDuplicates},
		CheckNullRates:            {"null_rates", CategoryCompleteness, Standard, checkNullRates},
		CheckColumnTypes:          {"column_types", CategoryStructure, Standard, checkColumnTypes},
		CheckCompleteness:         {"completeness", CategoryCompleteness, Standard, checkCompleteness},
		CheckSchemaDrift:          {"schema_drift", CategoryConsistency, Comprehensive, checkSchemaDrift},
		CheckReferentialIntegrity: {"referential_integrity", CategoryIntegrity, Comprehensive, checkReferential},
		CheckValueRanges:          {"value_ranges", CategoryQuality, Comprehensive, checkValueRanges},
		CheckEncoding:             {"encoding", CategoryQuality, Comprehensive, checkEncoding},
		CheckOutliers:             {"outliers", CategoryQuality, Comprehensive, checkOutliers},
	}
	for id, spec := range registry {
		if spec.run == nil || spec.name == "" {
			panic(fmt.Sprintf("validate: check %d not registered", id))
		}
	}
}

func (id CheckID) String() string {
	if id < 0 || id >= numChecks {
		return fmt.Sprintf("check(%d)", int(id))
	}
	return registry[id].name
}

// Category returns the check's category.
func (id CheckID) Category() Category { return registry[id].category }

// ChecksFor returns the checks enabled at level, in run order.
func ChecksFor(level Level) []CheckID {
	var out []CheckID
	for id := CheckID(0); id < numChecks; id++ {
		if registry[id].minLevel <= level {
			out = append(out, id)
		}
	}
	return out
}
