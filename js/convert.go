package js

import (
	"math"

	"github.com/dop251/goja"
)

// toString is ECMAScript ToString. It panics with a script exception for
// symbols and for objects whose conversion throws.
func (b *Bridge) toString(v goja.Value) string {
	if _, ok := v.(*goja.Symbol); ok {
		panic(b.vm.NewTypeError("Cannot convert a Symbol value to a string"))
	}
	if v == nil {
		return "undefined"
	}
	return v.String()
}

// toInt32 is ECMAScript ToInt32.
func toInt32(v goja.Value) int32 {
	if v == nil {
		return 0
	}
	f := v.ToFloat()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Mod(math.Trunc(f), 1<<32)
	if f < 0 {
		f += 1 << 32
	}
	if f >= 1<<31 {
		f -= 1 << 32
	}
	return int32(f)
}

// tryString converts every value with toString inside Runtime.Try. The
// first exception aborts the conversion and is returned.
func (b *Bridge) tryStrings(values []goja.Value) ([]string, *goja.Exception) {
	result := make([]string, 0, len(values))
	ex := b.vm.Try(func() {
		for _, v := range values {
			result = append(result, b.toString(v))
		}
	})
	if ex != nil {
		return nil, ex
	}
	return result, nil
}
