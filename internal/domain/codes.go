package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const executionCodePrefix = "VVE"

var (
	executionCodePattern = regexp.MustCompile(`^VVE(\d{4})(\d{6})$`)
	taskCodePattern      = regexp.MustCompile(`^([A-Z0-9][A-Z0-9_-]*)\[(\d+)\]$`)
)

// ExecutionCode identifies a visit execution as VVE + year + six digit sequence.
type ExecutionCode struct {
	year     int
	sequence int
}

func NewExecutionCode(year, sequence int) (ExecutionCode, error) {
	if year < 1000 || year > 9999 {
		return ExecutionCode{}, ruleErr(CodeInvalidExecutionCode, "year %d must have four digits", year)
	}
	if sequence < 1 || sequence > 999999 {
		return ExecutionCode{}, ruleErr(CodeInvalidExecutionCode, "sequence %d out of range 1..999999", sequence)
	}
	return ExecutionCode{year: year, sequence: sequence}, nil
}

func ParseExecutionCode(s string) (ExecutionCode, error) {
	m := executionCodePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return ExecutionCode{}, ruleErr(CodeInvalidExecutionCode, "%q does not match VVE<year><sequence>", s)
	}
	year, _ := strconv.Atoi(m[1])
	seq, _ := strconv.Atoi(m[2])
	return NewExecutionCode(year, seq)
}

func (c ExecutionCode) Year() int     { return c.year }
func (c ExecutionCode) Sequence() int { return c.sequence }
func (c ExecutionCode) IsZero() bool  { return c.year == 0 && c.sequence == 0 }

func (c ExecutionCode) String() string {
	if c.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s%04d%06d", executionCodePrefix, c.year, c.sequence)
}

// ExecutionCodePrefixForYear is the LIKE prefix shared by all codes of a year.
func ExecutionCodePrefixForYear(year int) string {
	return fmt.Sprintf("%s%04d", executionCodePrefix, year)
}

// TaskCode identifies a complementary task as PREFIX[N]; the prefix is the category code.
type TaskCode struct {
	prefix string
	number int
}

func NewTaskCode(prefix string, number int) (TaskCode, error) {
	p := strings.ToUpper(strings.TrimSpace(prefix))
	if p == "" {
		return TaskCode{}, ruleErr(CodeInvalidTaskCode, "prefix required")
	}
	if number < 1 {
		return TaskCode{}, ruleErr(CodeInvalidTaskCode, "number %d must be positive", number)
	}
	c := TaskCode{prefix: p, number: number}
	if !taskCodePattern.MatchString(c.String()) {
		return TaskCode{}, ruleErr(CodeInvalidTaskCode, "prefix %q has invalid characters", prefix)
	}
	return c, nil
}

func ParseTaskCode(s string) (TaskCode, error) {
	m := taskCodePattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return TaskCode{}, ruleErr(CodeInvalidTaskCode, "%q does not match PREFIX[N]", s)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return TaskCode{}, ruleErr(CodeInvalidTaskCode, "%q has invalid number", s)
	}
	return NewTaskCode(m[1], n)
}

func (c TaskCode) Prefix() string { return c.prefix }
func (c TaskCode) Number() int    { return c.number }
func (c TaskCode) IsZero() bool   { return c.prefix == "" }

func (c TaskCode) String() string {
	if c.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s[%d]", c.prefix, c.number)
}
