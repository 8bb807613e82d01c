package layout

import (
	"strconv"

	"go.bytecodealliance.org/wit"

	"github.com/trimorphdev/cherry/errors"
	"github.com/trimorphdev/cherry/internal/abi"
	"github.com/trimorphdev/cherry/types"
)

// FromWIT converts a component-model type into the equivalent cherry type.
// Strings and lists become owning containers (pointer + length) so their
// layout matches the canonical ABI and dropping them frees the buffer.
// Handles become u32 table indices.
func FromWIT(t wit.Type) (types.Type, error) {
	return fromWIT(t, nil)
}

func fromWIT(t wit.Type, path []string) (types.Type, error) {
	switch typ := t.(type) {
	case wit.Bool:
		return types.Bool, nil
	case wit.U8:
		return types.U8, nil
	case wit.S8:
		return types.S8, nil
	case wit.U16:
		return types.U16, nil
	case wit.S16:
		return types.S16, nil
	case wit.U32, wit.Char:
		return types.U32, nil
	case wit.S32:
		return types.S32, nil
	case wit.U64:
		return types.U64, nil
	case wit.S64:
		return types.S64, nil
	case wit.F32:
		return types.F32, nil
	case wit.F64:
		return types.F64, nil
	case wit.String:
		return container("string", nil, types.U8), nil
	case *wit.TypeDef:
		return fromTypeDef(typ, path)
	case nil:
		return nil, errors.InvalidInput(errors.PhaseLayout, "nil wit type")
	default:
		return nil, errors.Unsupported(errors.PhaseLayout, "wit type "+abiName(t))
	}
}

func fromTypeDef(td *wit.TypeDef, path []string) (types.Type, error) {
	switch kind := td.Kind.(type) {
	case *wit.Record:
		fields := make([]types.Field, 0, len(kind.Fields))
		for _, f := range kind.Fields {
			ft, err := fromWIT(f.Type, append(path, f.Name))
			if err != nil {
				return nil, err
			}
			fields = append(fields, types.Field{Name: f.Name, Type: ft})
		}
		return &types.Struct{Fields: fields}, nil

	case *wit.Tuple:
		fields := make([]types.Field, 0, len(kind.Types))
		for i, et := range kind.Types {
			name := strconv.Itoa(i)
			ft, err := fromWIT(et, append(path, name))
			if err != nil {
				return nil, err
			}
			fields = append(fields, types.Field{Name: name, Type: ft})
		}
		return &types.Struct{Fields: fields}, nil

	case *wit.List:
		elem, err := fromWIT(kind.Type, append(path, "[]"))
		if err != nil {
			return nil, err
		}
		return container("list", []types.Type{elem}, elem), nil

	case *wit.Enum:
		return discriminant(len(kind.Cases)), nil

	case *wit.Flags:
		return flagsType(len(kind.Flags)), nil

	case *wit.Own, *wit.Borrow:
		return types.U32, nil

	case wit.Type:
		return fromWIT(kind, path)

	default:
		return nil, errors.New(errors.PhaseLayout, errors.KindUnsupported).
			Path(path...).
			Detail("wit %s has no cherry equivalent", abiName(td.Kind)).
			Build()
	}
}

func container(name string, args []types.Type, elem types.Type) *types.Struct {
	return &types.Struct{
		Name: name,
		Args: args,
		Fields: []types.Field{
			{Name: "ptr", Type: types.Own{Elem: types.Slice{Elem: elem}}},
			{Name: "len", Type: types.U32},
		},
	}
}

func discriminant(cases int) types.Type {
	switch abi.DiscriminantSize(cases) {
	case 1:
		return types.U8
	case 2:
		return types.U16
	default:
		return types.U32
	}
}

func flagsType(n int) types.Type {
	switch {
	case n == 0:
		return &types.Struct{}
	case n <= 8:
		return types.U8
	case n <= 16:
		return types.U16
	case n <= 32:
		return types.U32
	case n <= 64:
		return types.U64
	}
	return types.Array{Elem: types.U32, Len: uint32((n + 31) / 32)}
}

func abiName(v any) string {
	switch v.(type) {
	case *wit.Option:
		return "option"
	case *wit.Result:
		return "result"
	case *wit.Variant:
		return "variant"
	default:
		return "type"
	}
}
