package dbx

import (
	"reflect"

	"github.com/pkg/errors"
)

// taggedField - struct field mapped to a column.
type taggedField struct {
	column string
	index  int
}

// taggedFields returns the exported fields of t carrying a tagKey tag other than "-", in declaration order.
func taggedFields(t reflect.Type, tagKey string) []taggedField {
	var fields []taggedField
	for i := range t.NumField() {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		if tag := field.Tag.Get(tagKey); tag != "" && tag != "-" {
			fields = append(fields, taggedField{column: tag, index: i})
		}
	}

	return fields
}

func structType(t reflect.Type) (reflect.Type, error) {
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t == nil || t.Kind() != reflect.Struct {
		return nil, errors.Errorf("expected a struct type, got %v", t)
	}

	return t, nil
}

// DeriveColumnNamesFromTags returns the column names of entity, a struct or a pointer to one, read from its
// tagKey tags. Unexported fields, untagged fields and fields tagged "-" are skipped.
//
//	type User struct {
//	    ID    string `db:"id"`
//	    Name  string `db:"name"`
//	    cache string `db:"cache"`
//	}
//	columns, _ := DeriveColumnNamesFromTags(User{}, "db") // [id name]
func DeriveColumnNamesFromTags[T any](entity T, tagKey string) ([]string, error) {
	t, err := structType(reflect.TypeOf(entity))
	if err != nil {
		return nil, err
	}

	fields := taggedFields(t, tagKey)
	columns := make([]string, len(fields))
	for i, field := range fields {
		columns[i] = field.column
	}

	return columns, nil
}

// StructsToRows converts entities to COPY rows, one value per column of DeriveColumnNamesFromTags.
func StructsToRows[T any](entities []T, tagKey string) ([][]any, error) {
	rows := make([][]any, 0, len(entities))
	for i, entity := range entities {
		v := reflect.ValueOf(entity)
		if !v.IsValid() {
			return nil, errors.Errorf("entity %d is nil", i)
		}
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return nil, errors.Errorf("entity %d is nil", i)
			}
			v = v.Elem()
		}

		t, err := structType(v.Type())
		if err != nil {
			return nil, err
		}

		fields := taggedFields(t, tagKey)
		row := make([]any, len(fields))
		for j, field := range fields {
			row[j] = v.Field(field.index).Interface()
		}
		rows = append(rows, row)
	}

	return rows, nil
}
