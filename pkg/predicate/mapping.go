package predicate

// FieldAbsent marks a field that has no position in the target row type.
const FieldAbsent = -1

// TransformFieldMapping rewrites the field indices of p through mapping,
// where mapping[i] is the new index of field i or FieldAbsent. A conjunction
// keeps the children that can be rewritten; a disjunction or leaf touching
// an absent field cannot be rewritten at all, and false is returned.
func TransformFieldMapping(p Predicate, mapping []int) (Predicate, bool) {
	switch x := p.(type) {
	case *Leaf:
		if x.Index >= len(mapping) || mapping[x.Index] == FieldAbsent {
			return nil, false
		}
		leaf := *x
		leaf.Index = mapping[x.Index]
		return &leaf, true
	case *Compound:
		children := make([]Predicate, 0, len(x.Children))
		for _, child := range x.Children {
			mapped, ok := TransformFieldMapping(child, mapping)
			if !ok {
				if x.Func == Or {
					return nil, false
				}
				continue
			}
			children = append(children, mapped)
		}
		if len(children) == 0 {
			return nil, false
		}
		return compound(x.Func, children), true
	}
	return nil, false
}

// ProjectionMapping maps every field of a row type with fieldCount fields to
// its position in projection.
func ProjectionMapping(fieldCount int, projection []int) []int {
	mapping := make([]int, fieldCount)
	for i := range mapping {
		mapping[i] = FieldAbsent
	}
	for pos, idx := range projection {
		if idx < fieldCount && mapping[idx] == FieldAbsent {
			mapping[idx] = pos
		}
	}
	return mapping
}
