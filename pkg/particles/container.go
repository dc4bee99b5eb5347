package particles

import (
	"fmt"
	"slices"

	"github.com/wehubfusion/Helios/pkg/flowstate"
)

// PropertyContainer stores a set of equally sized properties. A shallow
// clone shares the property arrays with its original; a property is copied
// the first time it is requested for modification.
type PropertyContainer struct {
	flowstate.ObjectBase

	count int
	props []*Property
	owned map[*Property]bool
}

func (c *PropertyContainer) cloneFrom(src *PropertyContainer, deep bool) {
	c.InitClone(&src.ObjectBase)
	c.count = src.count
	c.props = make([]*Property, len(src.props))
	c.owned = map[*Property]bool{}
	for i, p := range src.props {
		if deep {
			p = p.Clone()
			c.owned[p] = true
		}
		c.props[i] = p
	}
	if !deep {
		// Both containers now share every array.
		src.owned = nil
	}
}

// Count returns the number of elements.
func (c *PropertyContainer) Count() int { return c.count }

// SetCount resizes every property to n elements.
func (c *PropertyContainer) SetCount(n int) {
	if n == c.count {
		return
	}
	for _, p := range c.props {
		c.MutableProperty(p.Name()).Resize(n)
	}
	c.count = n
}

// Properties returns the properties in insertion order. They must not be
// modified; use MutableProperty for that.
func (c *PropertyContainer) Properties() []*Property { return slices.Clone(c.props) }

// Property returns the property with the given name, or nil.
func (c *PropertyContainer) Property(name string) *Property {
	for _, p := range c.props {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// MutableProperty returns a version of the named property that this
// container alone holds, copying a shared array first.
func (c *PropertyContainer) MutableProperty(name string) *Property {
	for i, p := range c.props {
		if p.Name() != name {
			continue
		}
		if c.owned[p] {
			return p
		}
		cp := p.Clone()
		c.own(cp)
		c.props[i] = cp
		return cp
	}
	return nil
}

// AddProperty inserts p, replacing a property of the same name. The element
// count of p must match the container's.
func (c *PropertyContainer) AddProperty(p *Property) error {
	if p.Count() != c.count {
		return fmt.Errorf("property '%s' has %d elements, container has %d", p.Name(), p.Count(), c.count)
	}
	c.own(p)
	for i, q := range c.props {
		if q.Name() == p.Name() {
			c.props[i] = p
			return nil
		}
	}
	c.props = append(c.props, p)
	return nil
}

// CreateProperty returns the named property ready for modification. An
// existing property is reused, otherwise a standard property is created.
func (c *PropertyContainer) CreateProperty(name string) *Property {
	if p := c.MutableProperty(name); p != nil {
		return p
	}
	p := StandardProperty(name, c.count)
	_ = c.AddProperty(p)
	return p
}

// ReplaceProperties discards all properties and takes over props, which
// must all hold count elements.
func (c *PropertyContainer) ReplaceProperties(count int, props ...*Property) error {
	for _, p := range props {
		if p.Count() != count {
			return fmt.Errorf("property '%s' has %d elements, expected %d", p.Name(), p.Count(), count)
		}
	}
	c.count = count
	c.props = slices.Clone(props)
	c.owned = map[*Property]bool{}
	for _, p := range props {
		c.owned[p] = true
	}
	return nil
}

// RemoveProperty deletes the named property.
func (c *PropertyContainer) RemoveProperty(name string) bool {
	for i, p := range c.props {
		if p.Name() == name {
			c.props = slices.Delete(c.props, i, i+1)
			delete(c.owned, p)
			return true
		}
	}
	return false
}

func (c *PropertyContainer) own(p *Property) {
	if c.owned == nil {
		c.owned = map[*Property]bool{}
	}
	c.owned[p] = true
}
