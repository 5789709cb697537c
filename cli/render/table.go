package render

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"
)

// renderTable lays a slice out as one row per element and anything else
// as one "name: value" line per field or key.
func (r *Renderer) renderTable(data any) error {
	v := indirect(reflect.ValueOf(data))
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			fmt.Fprintln(r.out, "(no results)")
			return nil
		}
		writeRows(w, v)
	case reflect.Struct, reflect.Map:
		for _, f := range fieldsOf(v, "") {
			fmt.Fprintf(w, "%s:\t%s\n", f.name, f.value)
		}
	default:
		fmt.Fprintf(w, "%v\n", data)
	}
	return w.Flush()
}

type field struct {
	name  string
	value string
}

// writeRows prints a header from the first element, then a row per
// element. Map elements get the union of their keys.
func writeRows(w *tabwriter.Writer, v reflect.Value) {
	var headers []string
	first := indirect(v.Index(0))
	if first.Kind() == reflect.Map {
		seen := map[string]bool{}
		for i := 0; i < v.Len(); i++ {
			for _, f := range fieldsOf(indirect(v.Index(i)), "") {
				if !seen[f.name] {
					seen[f.name] = true
					headers = append(headers, f.name)
				}
			}
		}
		sort.Strings(headers)
	} else {
		for _, f := range fieldsOf(first, "") {
			headers = append(headers, f.name)
		}
	}
	if len(headers) == 0 {
		for i := 0; i < v.Len(); i++ {
			fmt.Fprintln(w, formatValue(v.Index(i)))
		}
		return
	}

	fmt.Fprintln(w, strings.Join(headers, "\t"))
	for i := 0; i < v.Len(); i++ {
		values := map[string]string{}
		for _, f := range fieldsOf(indirect(v.Index(i)), "") {
			values[f.name] = f.value
		}
		row := make([]string, len(headers))
		for j, h := range headers {
			row[j] = values[h]
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
}

// fieldsOf lists the fields of a struct in declaration order, or the keys
// of a map sorted. Nested string-keyed maps, such as metric counters, are
// flattened into dotted names.
func fieldsOf(v reflect.Value, prefix string) []field {
	var out []field
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			name, ok := fieldName(sf)
			if !ok {
				continue
			}
			out = append(out, field{prefix + name, formatValue(v.Field(i))})
		}
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			name := prefix + fmt.Sprint(k.Interface())
			val := indirect(v.MapIndex(k))
			if val.Kind() == reflect.Map && val.Type().Key().Kind() == reflect.String && val.Len() > 0 {
				out = append(out, fieldsOf(val, name+".")...)
				continue
			}
			out = append(out, field{name, formatValue(val)})
		}
	}
	return out
}

// fieldName returns the json name of an exported field.
func fieldName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name == "-" {
			return "", false
		}
		if name != "" {
			return name, true
		}
	}
	return strings.ToLower(f.Name), true
}

// indirect follows pointers and interfaces down to the concrete value.
func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}
	if t, ok := v.Interface().(time.Time); ok {
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		if v.Type().Elem().Kind() == reflect.String {
			parts := make([]string, v.Len())
			for i := range parts {
				parts[i] = v.Index(i).String()
			}
			return strings.Join(parts, ", ")
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}
