package refgraph

import "fmt"

// Copier is implemented by node types that support cloning. CopyObject
// returns a new, initialized instance carrying copies of all plain property
// values but no links; Clone fills in the reference fields.
type Copier interface {
	CopyObject() Object
}

// CloneHelper memoizes copies so that a target shared by several links is
// cloned only once per clone operation.
type CloneHelper struct {
	clones map[*Node]Object
}

// NewCloneHelper creates an empty clone helper.
func NewCloneHelper() *CloneHelper {
	return &CloneHelper{clones: make(map[*Node]Object)}
}

// Clone creates a copy of obj. Reference fields are copied according to
// their ClonePolicy; deep requests deep copies of CloneShare fields.
func Clone(obj Object, deep bool) (Object, error) {
	return NewCloneHelper().CloneObject(obj, deep)
}

// CloneObject copies obj, reusing an earlier copy made by this helper.
func (h *CloneHelper) CloneObject(obj Object, deep bool) (Object, error) {
	if obj == nil {
		return nil, nil
	}
	src := obj.Base()
	if c, ok := h.clones[src]; ok {
		return c, nil
	}
	copier, ok := src.Self().(Copier)
	if !ok {
		return nil, fmt.Errorf("type %T does not support cloning", src.Self())
	}
	clone := copier.CopyObject()
	h.clones[src] = clone
	dst := clone.Base()

	for _, f := range src.fields {
		if f.Vector {
			for _, target := range src.vector[f.Name] {
				copied, err := h.copyTarget(f, target, deep)
				if err != nil {
					return nil, err
				}
				if err := dst.InsertLink(f.Name, -1, copied); err != nil {
					return nil, err
				}
			}
			continue
		}
		copied, err := h.copyTarget(f, src.single[f.Name], deep)
		if err != nil {
			return nil, err
		}
		if err := dst.SetLink(f.Name, copied); err != nil {
			return nil, err
		}
	}
	return clone, nil
}

func (h *CloneHelper) copyTarget(f FieldDescriptor, target Object, deep bool) (Object, error) {
	if target == nil {
		return nil, nil
	}
	switch f.Clone {
	case CloneNever:
		return target, nil
	case CloneAlways:
		return h.CloneObject(target, deep)
	case CloneDeep:
		return h.CloneObject(target, true)
	default:
		if deep {
			return h.CloneObject(target, true)
		}
		return target, nil
	}
}
