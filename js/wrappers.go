package js

import (
	"github.com/dop251/goja"
	"github.com/zond/juiceworker/worker"
)

func (b *Bridge) readOnly(obj *goja.Object, name string, get func() any) {
	obj.DefineAccessorProperty(name, b.vm.ToValue(func(goja.FunctionCall) goja.Value {
		return b.vm.ToValue(get())
	}), nil, goja.FLAG_TRUE, goja.FLAG_TRUE)
}

func (b *Bridge) locationWrapper(loc *worker.Location) *goja.Object {
	obj := b.vm.NewObject()
	for name, get := range map[string]func() string{
		"href":     loc.Href,
		"protocol": loc.Protocol,
		"host":     loc.Host,
		"hostname": loc.Hostname,
		"port":     loc.Port,
		"pathname": loc.Pathname,
		"search":   loc.Search,
		"hash":     loc.Hash,
	} {
		b.readOnly(obj, name, func() any { return get() })
	}
	obj.Set("toString", func(goja.FunctionCall) goja.Value {
		return b.vm.ToValue(loc.Href())
	})
	return obj
}

func (b *Bridge) navigatorWrapper(nav *worker.Navigator) *goja.Object {
	obj := b.vm.NewObject()
	b.readOnly(obj, "appName", func() any { return nav.AppName })
	b.readOnly(obj, "appVersion", func() any { return nav.AppVersion })
	b.readOnly(obj, "platform", func() any { return nav.Platform })
	b.readOnly(obj, "userAgent", func() any { return nav.UserAgent })
	b.readOnly(obj, "onLine", func() any { return nav.OnLine })
	return obj
}

func (b *Bridge) getLocation(goja.FunctionCall) goja.Value {
	if b.locationObj == nil {
		b.locationObj = b.locationWrapper(b.worker.Location())
		b.collector.Track(b.locationObj, nil)
	}
	return b.locationObj
}

func (b *Bridge) getNavigator(goja.FunctionCall) goja.Value {
	if b.navigatorObj == nil {
		b.navigatorObj = b.navigatorWrapper(b.worker.Navigator())
		b.collector.Track(b.navigatorObj, nil)
	}
	return b.navigatorObj
}
