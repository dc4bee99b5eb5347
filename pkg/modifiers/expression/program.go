package expression

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/dop251/goja"
)

// Error reports a failed compilation or evaluation of one expression.
type Error struct {
	Index      int
	Expression string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Err.Error()
	var exc *goja.Exception
	if errors.As(e.Err, &exc) && exc.Value() != nil {
		msg = exc.Value().String()
	}
	return fmt.Sprintf("Evaluation of expression %q failed: %s", e.Expression, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Program is a compiled set of expressions, one per output component. It
// is immutable and may run on several runtimes at once.
type Program struct {
	sources  []string
	programs []*goja.Program
}

// Compile compiles each expression. An empty expression evaluates to 0.
func Compile(expressions []string) (*Program, error) {
	p := &Program{sources: expressions, programs: make([]*goja.Program, len(expressions))}
	for i, src := range expressions {
		if strings.TrimSpace(src) == "" {
			src = "0"
		}
		prog, err := goja.Compile(fmt.Sprintf("expression%d", i+1), src, false)
		if err != nil {
			return nil, &Error{Index: i, Expression: expressions[i], Err: err}
		}
		p.programs[i] = prog
	}
	return p, nil
}

// Len returns the number of expressions.
func (p *Program) Len() int { return len(p.programs) }

// Evaluate runs expression i on vm.
func (p *Program) Evaluate(vm *VM, i int) (float64, error) {
	v, err := vm.Evaluate(p.programs[i])
	if err != nil {
		return 0, &Error{Index: i, Expression: p.sources[i], Err: err}
	}
	return v, nil
}

// References reports whether any expression mentions the variable name as
// a whole word.
func (p *Program) References(name string) bool {
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\b`)
	for _, src := range p.sources {
		if re.MatchString(src) {
			return true
		}
	}
	return false
}

// VariableName turns a property name into an identifier by dropping every
// character that may not appear in one, e.g. "Particle Type" becomes
// "ParticleType".
func VariableName(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r == '_' || r == '$' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ComponentVariable returns the variable name of one component of a vector
// property. Components with identifier names are exposed as object fields,
// e.g. "Position.X"; others as "Force_1".
func ComponentVariable(property, component string) string {
	base := VariableName(property)
	if c := VariableName(component); c == component && c != "" {
		return base + "." + c
	}
	return base + "_" + component
}
