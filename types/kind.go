package types //nolint:revive // package name is used by internal consumers

type Kind uint8

const (
	KindBool Kind = iota
	KindU8
	KindS8
	KindU16
	KindS16
	KindU32
	KindS32
	KindU64
	KindS64
	KindF32
	KindF64
	KindArray
	KindSlice
	KindStruct
	KindOwn
	KindRaw
	KindNamed
)

var kindNames = [...]string{
	KindBool:   "bool",
	KindU8:     "u8",
	KindS8:     "s8",
	KindU16:    "u16",
	KindS16:    "s16",
	KindU32:    "u32",
	KindS32:    "s32",
	KindU64:    "u64",
	KindS64:    "s64",
	KindF32:    "f32",
	KindF64:    "f64",
	KindArray:  "array",
	KindSlice:  "slice",
	KindStruct: "struct",
	KindOwn:    "own",
	KindRaw:    "raw",
	KindNamed:  "named",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

func (k Kind) IsScalar() bool {
	return k <= KindF64
}

// IsPointer reports whether values of this kind hold an address.
func (k Kind) IsPointer() bool {
	return k == KindOwn || k == KindRaw
}
