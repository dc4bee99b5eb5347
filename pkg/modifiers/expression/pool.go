package expression

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("expression pool is closed")

// VM is a sandboxed runtime handed out by a VMPool. A VM must only be used
// by the goroutine that acquired it.
type VM struct {
	rt       *goja.Runtime
	objects  map[string]*goja.Object
	builtins map[string]bool
	reuse    int
}

// SetVariable assigns a number to a variable. A dotted name such as
// "Position.X" sets a field of an object variable.
func (vm *VM) SetVariable(name string, v float64) error {
	obj, field, ok := strings.Cut(name, ".")
	if !ok {
		return vm.rt.Set(name, v)
	}
	o := vm.objects[obj]
	if o == nil {
		o = vm.rt.NewObject()
		if err := vm.rt.Set(obj, o); err != nil {
			return err
		}
		vm.objects[obj] = o
	}
	return o.Set(field, v)
}

// Evaluate runs a compiled expression and converts its value to a number.
// Booleans become 0 or 1.
func (vm *VM) Evaluate(p *goja.Program) (float64, error) {
	v, err := vm.rt.RunProgram(p)
	if err != nil {
		return 0, err
	}
	return v.ToFloat(), nil
}

// Interrupt aborts a running evaluation.
func (vm *VM) Interrupt(reason any) { vm.rt.Interrupt(reason) }

// VMPool keeps sandboxed runtimes for reuse across evaluations.
type VMPool struct {
	pool    chan *VM
	sandbox *Sandbox
	config  Config

	currentSize   atomic.Int32
	totalCreated  atomic.Int64
	totalAcquired atomic.Int64
	totalReleased atomic.Int64

	mu     sync.Mutex
	closed bool
}

// NewVMPool creates a pool and fills it with cfg.PoolMinSize runtimes.
func NewVMPool(cfg Config) (*VMPool, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &VMPool{
		pool:    make(chan *VM, cfg.PoolMaxSize),
		sandbox: NewSandbox(cfg),
		config:  cfg,
	}
	for i := 0; i < cfg.PoolMinSize; i++ {
		vm, err := p.createVM()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create initial VM: %w", err)
		}
		p.pool <- vm
	}
	return p, nil
}

// Acquire takes a runtime from the pool, creates one if the pool is below
// its maximum size, or waits for one to be released.
func (p *VMPool) Acquire(ctx context.Context) (*VM, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	p.totalAcquired.Add(1)

	select {
	case vm, ok := <-p.pool:
		if !ok {
			return nil, ErrPoolClosed
		}
		return p.reuse(vm)
	default:
	}

	if int(p.currentSize.Load()) < p.config.PoolMaxSize {
		return p.createVM()
	}
	select {
	case vm, ok := <-p.pool:
		if !ok {
			return nil, ErrPoolClosed
		}
		return p.reuse(vm)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *VMPool) reuse(vm *VM) (*VM, error) {
	vm.reuse++
	if vm.reuse >= p.config.MaxReuseCount {
		p.destroyVM(vm)
		return p.createVM()
	}
	return vm, nil
}

// Release resets vm and returns it to the pool.
func (p *VMPool) Release(vm *VM) {
	if vm == nil {
		return
	}
	p.totalReleased.Add(1)
	if err := p.resetVM(vm); err != nil {
		p.destroyVM(vm)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.destroyVM(vm)
		return
	}
	select {
	case p.pool <- vm:
	default:
		p.destroyVM(vm)
	}
}

func (p *VMPool) createVM() (*VM, error) {
	rt := goja.New()
	if err := p.sandbox.Apply(rt); err != nil {
		return nil, fmt.Errorf("failed to create secure context: %w", err)
	}
	vm := &VM{rt: rt, objects: map[string]*goja.Object{}, builtins: map[string]bool{}}
	for _, k := range rt.GlobalObject().Keys() {
		vm.builtins[k] = true
	}
	p.currentSize.Add(1)
	p.totalCreated.Add(1)
	return vm, nil
}

// resetVM removes the variables of the previous user.
func (p *VMPool) resetVM(vm *VM) error {
	vm.rt.ClearInterrupt()
	global := vm.rt.GlobalObject()
	for _, k := range global.Keys() {
		if vm.builtins[k] {
			continue
		}
		if err := global.Delete(k); err != nil {
			return err
		}
	}
	clear(vm.objects)
	return nil
}

func (p *VMPool) destroyVM(vm *VM) {
	vm.rt = nil
	p.currentSize.Add(-1)
}

func (p *VMPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close destroys all idle runtimes. Runtimes still in use are destroyed
// when they are released.
func (p *VMPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.pool)
	for vm := range p.pool {
		p.destroyVM(vm)
	}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	CurrentSize   int   `json:"current_size"`
	MaxSize       int   `json:"max_size"`
	TotalCreated  int64 `json:"total_created"`
	TotalAcquired int64 `json:"total_acquired"`
	TotalReleased int64 `json:"total_released"`
	Available     int   `json:"available"`
}

// Stats returns pool statistics.
func (p *VMPool) Stats() PoolStats {
	return PoolStats{
		CurrentSize:   int(p.currentSize.Load()),
		MaxSize:       p.config.PoolMaxSize,
		TotalCreated:  p.totalCreated.Load(),
		TotalAcquired: p.totalAcquired.Load(),
		TotalReleased: p.totalReleased.Load(),
		Available:     len(p.pool),
	}
}
