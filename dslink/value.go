package dslink

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
)

// value type tags understood by the broker
const (
	TypeBool    = "bool"
	TypeNumber  = "number"
	TypeString  = "string"
	TypeArray   = "array"
	TypeMap     = "map"
	TypeEnum    = "enum"
	TypeBinary  = "binary"
	TypeDynamic = "dynamic"
)

// timestamps on the wire are ISO 8601 with microsecond precision
const valueTsFormat = "2006-01-02T15:04:05.000000-07:00"

// Value holds a node's current value, its declared type tag, and the time
// of the last successful mutation. The timestamp is assigned exactly once
// per mutation, before any dependent notification fires.
type Value struct {
	clock     clock.Clock
	valueType string
	value     any
	updatedAt time.Time
	assigned  bool
}

func NewValue(clk clock.Clock) *Value {
	if clk == nil {
		clk = clock.New()
	}
	return &Value{
		clock: clk,
	}
}

func (self *Value) Type() string {
	return self.valueType
}

func (self *Value) SetType(valueType string) {
	self.valueType = valueType
}

// Set replaces the stored value and stamps the mutation time.
// Returns false when the new value compares equal to the current one.
func (self *Value) Set(value any) bool {
	if self.assigned && reflect.DeepEqual(self.value, value) {
		return false
	}
	self.value = value
	self.updatedAt = self.clock.Now()
	self.assigned = true
	return true
}

// Get returns the readable form of the value. Enum values expand to the
// full descriptor; the raw stored form stays available through Raw for
// wire compatibility with older readers.
func (self *Value) Get() any {
	if self.valueType == TypeEnum {
		return BuildEnum(self.value)
	}
	return self.value
}

// Raw returns the stored value without enum expansion.
func (self *Value) Raw() any {
	return self.value
}

func (self *Value) HasValue() bool {
	return self.assigned
}

func (self *Value) UpdatedAt() time.Time {
	return self.updatedAt
}

func (self *Value) UpdatedAtISO() string {
	return self.updatedAt.Format(valueTsFormat)
}

// BuildEnum renders the expanded enum descriptor for a raw enum value,
// which may be a comma-joined string or a list of options.
func BuildEnum(raw any) string {
	switch v := raw.(type) {
	case string:
		return fmt.Sprintf("enum[%s]", v)
	case []string:
		return fmt.Sprintf("enum[%s]", strings.Join(v, ","))
	case []any:
		options := make([]string, len(v))
		for i, option := range v {
			options[i] = fmt.Sprint(option)
		}
		return fmt.Sprintf("enum[%s]", strings.Join(options, ","))
	default:
		return fmt.Sprintf("enum[%v]", v)
	}
}
