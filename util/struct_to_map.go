// Package util flattens config structs into sorted key value rows for startup tables.
package util

import (
	"fmt"
	"reflect"
	"runtime"
	"sort"
)

// maxDepth stops the walk inside deeply nested third party configs.
const maxDepth = 4

type strToMap struct {
	normalized map[string]string
}

// StrToMap flattens the exported fields of struct v into sorted [path, value] rows. Nested structs
// are walked with dotted paths, values implementing String or Name are rendered through them.
func StrToMap(path string, v interface{}) [][]string {
	m := strToMap{normalized: make(map[string]string)}
	m.split(path, reflect.ValueOf(v), 0)

	return m.sort()
}

func (n *strToMap) sort() [][]string {
	var keyVals [][]string
	keys := make([]string, 0, len(n.normalized))
	for k := range n.normalized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		keyVals = append(keyVals, []string{k, n.normalized[k]})
	}
	return keyVals
}

func (n *strToMap) split(parent string, v reflect.Value, depth int) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return
		}
		v = v.Elem()
	}

	if !v.IsValid() || v.Kind() != reflect.Struct || v.IsZero() {
		return
	}

	types := v.Type()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if !f.CanInterface() {
			continue
		}

		path := types.Field(i).Name
		if parent != `` {
			path = parent + `.` + path
		}

		switch {
		case (f.Kind() == reflect.Interface || f.Kind() == reflect.Ptr) && f.IsNil():
			n.normalized[path] = `<nil>`
		case n.named(path, f):
		case f.Kind() == reflect.Ptr || f.Kind() == reflect.Struct || f.Kind() == reflect.Interface:
			if depth < maxDepth {
				n.split(path, f, depth+1)
			}
		default:
			n.normalized[path] = n.toString(f)
		}
	}
}

// named renders f through its String or Name method when it has one.
func (n *strToMap) named(path string, f reflect.Value) bool {
	if f.NumMethod() < 1 {
		return false
	}

	for _, method := range []string{`String`, `Name`} {
		m := f.MethodByName(method)
		if !m.IsValid() || m.Type().NumIn() != 0 || m.Type().NumOut() != 1 || m.Type().Out(0).Kind() != reflect.String {
			continue
		}
		n.normalized[path] = m.Call(nil)[0].String()
		return true
	}

	return false
}

func (n *strToMap) toString(value reflect.Value) string {
	switch value.Kind() {
	case reflect.Map, reflect.Array, reflect.Slice:
		return fmt.Sprintf(`%+v`, value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf(`%d`, value.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf(`%d`, value.Uint())
	case reflect.Bool:
		return fmt.Sprint(value.Bool())
	case reflect.Float64, reflect.Float32:
		return fmt.Sprint(value.Float())
	case reflect.Func:
		if value.IsNil() {
			return `<nil>`
		}
		return runtime.FuncForPC(value.Pointer()).Name()
	default:
		return value.String()
	}
}
