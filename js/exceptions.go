package js

import (
	"github.com/dop251/goja"
	"github.com/pkg/errors"
	"github.com/zond/juiceworker/dom"
)

const domExceptionSource = `(function(names, constants) {
	function DOMException(message, name) {
		if (!(this instanceof DOMException)) {
			throw new TypeError("Failed to construct 'DOMException': Please use the 'new' operator");
		}
		this.message = message === undefined ? "" : String(message);
		this.name = name === undefined ? "Error" : String(name);
		var code = names.indexOf(this.name);
		this.code = code < 1 ? 0 : code;
	}
	DOMException.prototype = Object.create(Error.prototype, {
		constructor: {value: DOMException, writable: true, configurable: true},
	});
	for (var i = 1; i < constants.length; i++) {
		DOMException[constants[i]] = i;
		DOMException.prototype[constants[i]] = i;
	}
	return DOMException;
})`

func (b *Bridge) installDOMException() error {
	factoryValue, err := b.vm.RunScript("<DOMException>", domExceptionSource)
	if err != nil {
		return errors.WithStack(err)
	}
	factory, ok := goja.AssertFunction(factoryValue)
	if !ok {
		return errors.New("DOMException factory is not a function")
	}
	names := []any{""}
	constants := []any{""}
	for _, code := range dom.Codes() {
		names = append(names, code.Name())
		constants = append(constants, code.ConstantName())
	}
	ctor, err := factory(goja.Undefined(), b.vm.NewArray(names...), b.vm.NewArray(constants...))
	if err != nil {
		return errors.WithStack(err)
	}
	b.domExceptionCtor = ctor.ToObject(b.vm)
	b.collector.Track(b.domExceptionCtor, nil)
	return b.defineBuiltin("DOMException", b.domExceptionCtor)
}

// newDOMException builds a script DOMException object.
func (b *Bridge) newDOMException(code dom.ExceptionCode, message string) *goja.Object {
	ctor, ok := goja.AssertConstructor(b.domExceptionCtor)
	if !ok {
		panic(b.vm.NewTypeError("DOMException is not a constructor"))
	}
	obj, err := ctor(nil, b.vm.ToValue(message), b.vm.ToValue(code.Name()))
	if err != nil {
		panic(err)
	}
	return obj
}

// throw raises err in script. Script exceptions are rethrown unchanged,
// *dom.Exception becomes a DOMException and anything else a GoError.
func (b *Bridge) throw(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		panic(interrupted)
	}
	var domErr *dom.Exception
	if errors.As(err, &domErr) {
		panic(b.newDOMException(domErr.Code, domErr.Message))
	}
	panic(b.vm.NewGoError(err))
}
