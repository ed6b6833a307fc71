package configmap

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

const (
	configKeyTag       = "configKey"
	configUsageTag     = "configUsage"
	sensitiveTag       = "sensitive"
	tagValuesSeparator = ","
)

// field is a leaf of the configuration structure.
type field struct {
	// Key is the dot separated path of configKey tags, for example "scheduler.interval".
	Key       string
	FlagName  string
	Usage     string
	Sensitive bool
	Value     reflect.Value
}

// GenerateFlags generates flags from the provided configuration structure.
// Each field tagged by "configKey" tag is mapped to a flag, the current value is used as the default value.
// Field can optionally have the "configUsage" tag.
// The returned map contains the config key for each flag name.
func GenerateFlags(fs *pflag.FlagSet, v any) (map[string]string, error) {
	fields, err := fieldsOf(v)
	if err != nil {
		return nil, err
	}

	flagToKey := make(map[string]string, len(fields))
	for _, f := range fields {
		name, usage := f.FlagName, f.Usage
		switch v := f.Value.Interface().(type) {
		case time.Duration:
			fs.Duration(name, v, usage)
		case bool:
			fs.Bool(name, v, usage)
		case int:
			fs.Int(name, v, usage)
		case int64:
			fs.Int64(name, v, usage)
		case float64:
			fs.Float64(name, v, usage)
		case []string:
			fs.StringSlice(name, v, usage)
		default:
			if f.Value.Kind() == reflect.String {
				fs.String(name, f.Value.String(), usage)
				break
			}
			return nil, errors.Errorf(`unexpected type "%T" of the config key "%s"`, v, f.Key)
		}
		flagToKey[name] = f.Key
	}

	return flagToKey, nil
}

func fieldsOf(v any) ([]field, error) {
	value := reflect.ValueOf(v)
	if value.Kind() == reflect.Pointer {
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return nil, errors.Errorf(`cannot generate flags from type "%s": it is not a struct or a pointer to a struct`, value.Type().String())
	}

	var out []field
	visit(value, nil, &out)
	return out, nil
}

func visit(value reflect.Value, path []string, out *[]field) {
	for i := 0; i < value.NumField(); i++ {
		structField := value.Type().Field(i)
		if !structField.IsExported() {
			continue
		}

		tag, found := structField.Tag.Lookup(configKeyTag)
		if !found {
			continue
		}
		name := strings.Split(tag, tagValuesSeparator)[0]
		if name == "" || name == "-" {
			continue
		}

		fieldPath := append(append([]string(nil), path...), name)
		fieldValue := value.Field(i)
		if fieldValue.Kind() == reflect.Struct {
			visit(fieldValue, fieldPath, out)
			continue
		}

		*out = append(*out, field{
			Key:       strings.Join(fieldPath, "."),
			FlagName:  fieldToFlagName(strings.Join(fieldPath, ".")),
			Usage:     structField.Tag.Get(configUsageTag),
			Sensitive: structField.Tag.Get(sensitiveTag) == "true",
			Value:     fieldValue,
		})
	}
}
