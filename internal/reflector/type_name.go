// Package reflector derives stable names for Go types.
package reflector

import (
	"reflect"
	"sync"
)

var names sync.Map // reflect.Type -> TypeName

// TypeName names a Go type. Pointers are named after their element type.
type TypeName struct {
	// Name is the bare type name, e.g. "OrderPlaced".
	Name string
	// Qualified includes the package path, e.g. "example.com/orders.OrderPlaced".
	Qualified string
}

// NameOf returns the name of x's dynamic type. It is the zero TypeName for nil.
func NameOf(x any) TypeName {
	return NameOfType(reflect.TypeOf(x))
}

// NameFor returns the name of T.
func NameFor[T any]() TypeName {
	return NameOfType(reflect.TypeFor[T]())
}

func NameOfType(t reflect.Type) TypeName {
	if t == nil {
		return TypeName{}
	}
	if cached, ok := names.Load(t); ok {
		return cached.(TypeName)
	}

	elem := t
	for elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	tn := TypeName{Name: elem.Name(), Qualified: elem.Name()}
	if elem.Name() == "" {
		tn.Name = elem.String()
		tn.Qualified = tn.Name
	} else if pkg := elem.PkgPath(); pkg != "" {
		tn.Qualified = pkg + "." + elem.Name()
	}

	names.Store(t, tn)
	return tn
}
