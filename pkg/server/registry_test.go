package server

import (
	"context"
	"errors"
	"testing"
)

func TestTypeRegistryLookup(t *testing.T) {
	reg := NewTypeRegistry()
	def := &ComponentDef{Type: "Counter"}
	reg.Register(def)

	got, err := reg.Lookup("Counter")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != def {
		t.Error("Lookup returned a different def")
	}

	if _, err := reg.Lookup("Missing"); !errors.Is(err, ErrTypeNotRegistered) {
		t.Errorf("unknown type = %v, want ErrTypeNotRegistered", err)
	}
}

func TestTypeRegistryDuplicatePanics(t *testing.T) {
	reg := NewTypeRegistry()
	reg.Register(&ComponentDef{Type: "Counter"})

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	reg.Register(&ComponentDef{Type: "Counter"})
}

func TestTypeRegistryEmptyNamePanics(t *testing.T) {
	reg := NewTypeRegistry()
	defer func() {
		if recover() == nil {
			t.Error("empty type name did not panic")
		}
	}()
	reg.Register(&ComponentDef{})
}

func TestDefaultStateIsFresh(t *testing.T) {
	def := &ComponentDef{
		Type: "Counter",
		Props: []PropSpec{
			{Name: "count", Default: 0},
			{Name: "label", Default: "untitled"},
		},
	}

	a := def.defaultState()
	b := def.defaultState()
	a["count"] = 99

	if b["count"] != 0 {
		t.Errorf("defaults shared between instances: %v", b["count"])
	}
	if !def.declared("label") || def.declared("missing") {
		t.Error("declared reports wrong membership")
	}
}

func TestChainRPCOrder(t *testing.T) {
	var order []string
	mw := func(name string) RPCMiddleware {
		return func(next RPCInvoker) RPCInvoker {
			return func(ctx context.Context, info *RPCInfo, args []any) (any, error) {
				order = append(order, name)
				return next(ctx, info, args)
			}
		}
	}
	inner := func(ctx context.Context, info *RPCInfo, args []any) (any, error) {
		order = append(order, "inner")
		return nil, nil
	}

	chained := chainRPC(inner, []RPCMiddleware{mw("first"), mw("second")})
	if _, err := chained(context.Background(), &RPCInfo{}, nil); err != nil {
		t.Fatalf("chained: %v", err)
	}

	want := []string{"first", "second", "inner"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
