package log

import (
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// toFields turns alternating key/value arguments into zap fields. A bare
// error or zap.Field may appear anywhere in the list and consumes one slot.
//
// Message bodies travel as []byte and are logged as text when they are valid
// UTF-8, which every vehicle command and reply is. Named types such as
// command.Reply or broker.State log through their String method.
func toFields(args ...any) []zap.Field {
	if len(args) == 0 {
		return nil
	}

	fields := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); {
		switch v := args[i].(type) {
		case zap.Field:
			fields = append(fields, v)
			i++
			continue
		case error:
			fields = append(fields, zap.Error(v))
			i++
			continue
		}

		if i == len(args)-1 {
			fields = append(fields, zap.Any("extra", args[i]))
			break
		}

		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields = append(fields, field(key, args[i+1]))
		i += 2
	}
	return fields
}

func field(key string, val any) zap.Field {
	switch v := val.(type) {
	case string:
		return zap.String(key, v)
	case []byte:
		if utf8.Valid(v) {
			return zap.ByteString(key, v)
		}
		return zap.Binary(key, v)
	case bool:
		return zap.Bool(key, v)
	case int:
		return zap.Int(key, v)
	case int32:
		return zap.Int32(key, v)
	case int64:
		return zap.Int64(key, v)
	case uint16:
		return zap.Uint16(key, v)
	case uint32:
		return zap.Uint32(key, v)
	case uint64:
		return zap.Uint64(key, v)
	case float64:
		return zap.Float64(key, v)
	case time.Duration:
		return zap.Duration(key, v)
	case time.Time:
		return zap.Time(key, v)
	case error:
		return zap.NamedError(key, v)
	case []string:
		return zap.Strings(key, v)
	case fmt.Stringer:
		return zap.Stringer(key, v)
	default:
		return zap.Any(key, v)
	}
}
