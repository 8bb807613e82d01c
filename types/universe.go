package types

// Universe holds the named types a program declares. A name may be declared
// before it is defined; layout of a declared-but-undefined name fails as
// incomplete.
type Universe struct {
	defs     map[string]Type
	declared map[string]bool
}

func NewUniverse() *Universe {
	return &Universe{
		defs:     make(map[string]Type),
		declared: make(map[string]bool),
	}
}

// Declare introduces name without a definition.
func (u *Universe) Declare(name string) {
	u.declared[name] = true
}

// Define binds name to t. A named *Struct gets its Name set to name.
func (u *Universe) Define(name string, t Type) {
	if s, ok := t.(*Struct); ok && s.Name == "" {
		s.Name = name
	}
	u.declared[name] = true
	u.defs[name] = t
}

// Lookup returns the definition of name. declared is true when the name is
// known even if it has no definition yet.
func (u *Universe) Lookup(name string) (t Type, declared bool) {
	if u == nil {
		return nil, false
	}
	t, ok := u.defs[name]
	if ok {
		return t, true
	}
	return nil, u.declared[name]
}

// Resolve follows Named references until a non-Named type is reached.
// It returns nil when a name is unknown or undefined.
func (u *Universe) Resolve(t Type) Type {
	seen := 0
	for {
		n, ok := t.(Named)
		if !ok {
			return t
		}
		def, _ := u.Lookup(n.Name)
		if def == nil {
			return nil
		}
		t = def
		seen++
		if seen > len(u.defs) {
			return nil
		}
	}
}
