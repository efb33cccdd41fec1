//go:build governance

package core_test

import (
	"go/types"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

func loadModule(t *testing.T) []*packages.Package {
	t.Helper()
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedDeps | packages.NeedImports,
	}
	pkgs, err := packages.Load(cfg, modulePath+"/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	return pkgs
}

func coreInterface(t *testing.T, pkgs []*packages.Package, name string) *types.Interface {
	t.Helper()
	for _, p := range pkgs {
		if p.PkgPath != modulePath+"/pkg/core" {
			continue
		}
		obj := p.Types.Scope().Lookup(name)
		if obj == nil {
			t.Fatalf("core.%s not found", name)
		}
		iface, ok := obj.Type().Underlying().(*types.Interface)
		if !ok {
			t.Fatalf("core.%s is not an interface", name)
		}
		return iface
	}
	t.Fatal("pkg/core not loaded")
	return nil
}

// namedTypes yields the package-level named non-interface types of the module.
func namedTypes(pkgs []*packages.Package, fn func(p *packages.Package, named *types.Named)) {
	for _, p := range pkgs {
		if p.Types == nil || !strings.HasPrefix(p.PkgPath, modulePath) {
			continue
		}
		scope := p.Types.Scope()
		for _, name := range scope.Names() {
			tn, ok := scope.Lookup(name).(*types.TypeName)
			if !ok || tn.IsAlias() {
				continue
			}
			named, ok := tn.Type().(*types.Named)
			if !ok {
				continue
			}
			if _, isIface := named.Underlying().(*types.Interface); isIface {
				continue
			}
			fn(p, named)
		}
	}
}

// The vector cache keys its entries by source. Every vector source must be
// a pointer so that keys compare by identity and never panic on hashing.
func TestGovernance_VectorSourcesArePointers(t *testing.T) {
	pkgs := loadModule(t)
	vectorSource := coreInterface(t, pkgs, "VectorSource")

	namedTypes(pkgs, func(p *packages.Package, named *types.Named) {
		if types.Implements(named, vectorSource) {
			t.Errorf("%s.%s implements core.VectorSource with value receivers; use pointer receivers",
				p.Name, named.Obj().Name())
		}
	})
}

// Errors are matched with errors.As on pointer targets across the module, so
// every exported *Error type implements error on its pointer only.
func TestGovernance_ErrorTypesUsePointerReceivers(t *testing.T) {
	pkgs := loadModule(t)
	errorType := types.Universe.Lookup("error").Type().Underlying().(*types.Interface)

	namedTypes(pkgs, func(p *packages.Package, named *types.Named) {
		name := named.Obj().Name()
		if !named.Obj().Exported() || !strings.HasSuffix(name, "Error") {
			return
		}
		if !types.Implements(types.NewPointer(named), errorType) {
			t.Errorf("%s.%s does not implement error", p.Name, name)
		}
		if types.Implements(named, errorType) {
			t.Errorf("%s.%s implements error on its value; errors.As with *%s would not match",
				p.Name, name, name)
		}
	})
}
