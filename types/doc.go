// Package types is the type model the allocation subsystem consumes from
// the front end.
//
// Types are plain values: scalars, fixed arrays, slices (unsized, only
// behind pointers), structs, owning pointers (own<T>), raw pointers (raw<T>)
// and Named references into a Universe for recursive definitions.
//
//	u := types.NewUniverse()
//	u.Define("Node", &types.Struct{Fields: []types.Field{
//	    {Name: "value", Type: types.U64},
//	    {Name: "next", Type: types.Own{Elem: types.Named{Name: "Node"}}},
//	}})
//
// Type identity is structural for anonymous types and nominal for named
// structs; both are captured by the canonical String form.
package types
