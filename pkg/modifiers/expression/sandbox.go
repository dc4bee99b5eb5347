package expression

import (
	"fmt"

	"github.com/dop251/goja"
)

// Sandbox strips a runtime down to a pure expression evaluator.
type Sandbox struct {
	level         string
	maxStackDepth int
}

// NewSandbox creates a sandbox for cfg.
func NewSandbox(cfg Config) *Sandbox {
	return &Sandbox{level: cfg.SecurityLevel, maxStackDepth: cfg.MaxCallStackSize}
}

// Apply applies the restrictions to vm.
func (s *Sandbox) Apply(vm *goja.Runtime) error {
	if s.maxStackDepth > 0 {
		vm.SetMaxCallStackSize(s.maxStackDepth)
	}
	if err := s.removeGlobals(vm); err != nil {
		return fmt.Errorf("failed to remove globals: %w", err)
	}
	if err := s.freezeBuiltins(vm); err != nil {
		return fmt.Errorf("failed to freeze built-ins: %w", err)
	}
	return nil
}

func (s *Sandbox) removeGlobals(vm *goja.Runtime) error {
	names := []string{"require", "module", "exports", "process", "global", "Buffer"}
	if s.level == SecurityLevelStrict {
		names = append(names, "Function", "Proxy", "Reflect")
	}
	for _, name := range names {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	if s.level != SecurityLevelPermissive {
		return vm.Set("eval", func(goja.FunctionCall) goja.Value {
			panic(vm.NewGoError(fmt.Errorf("eval is not allowed in %s security mode", s.level)))
		})
	}
	return nil
}

// freezeBuiltins keeps expressions from redefining Math and friends, which
// would leak into later evaluations on the same runtime.
func (s *Sandbox) freezeBuiltins(vm *goja.Runtime) error {
	if s.level == SecurityLevelPermissive {
		return nil
	}
	_, err := vm.RunString(`
		(function(names) {
			for (var i = 0; i < names.length; i++) {
				var obj = this[names[i]];
				if (obj) {
					Object.freeze(obj);
					if (obj.prototype) Object.freeze(obj.prototype);
				}
			}
		})(["Object", "Array", "String", "Number", "Boolean", "Math", "JSON", "Date", "RegExp", "Error"])
	`)
	return err
}
