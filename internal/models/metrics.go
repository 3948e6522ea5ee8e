// Package models defines the metric data structures shared by sources,
// the collection engine and consumers.
package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Guliveer/databot/internal/address"
)

// SourceType selects the MetricSource implementation for a source definition.
type SourceType string

const (
	SourceTypeLocal SourceType = "local"
	SourceTypeJMX   SourceType = "jmx"
	SourceTypeJBoss SourceType = "jboss"
)

// SourceTypeForProtocol returns the default source type for an address protocol.
func SourceTypeForProtocol(protocol string) (SourceType, bool) {
	switch protocol {
	case address.ProtocolLocal:
		return SourceTypeLocal, true
	case address.ProtocolJMX:
		return SourceTypeJMX, true
	case address.ProtocolJBoss:
		return SourceTypeJBoss, true
	default:
		return "", false
	}
}

// MetricDefinition identifies one measurable quantity and the address of the
// source that produces it.
type MetricDefinition struct {
	ID      string
	Address address.Address
}

func (d MetricDefinition) String() string {
	return d.Address.Literal() + "/" + d.ID
}

// MetricSourceDefinition is a named declaration binding an address to a
// source type. Password and Path are only meaningful for remote sources.
type MetricSourceDefinition struct {
	Name     string
	Type     SourceType
	Address  address.Address
	Password string
	Path     string
	Timeout  time.Duration
}

// PropertyType is the value type of a collected Property.
type PropertyType int

const (
	TypeString PropertyType = iota
	TypeInt
	TypeLong
	TypeFloat
	TypeBool
)

func (t PropertyType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "boolean"
	default:
		return "unknown"
	}
}

// Property is one collected reading. Its name equals the ID of the metric
// definition it was produced for.
type Property struct {
	Name  string       `json:"name"`
	Type  PropertyType `json:"-"`
	Value any          `json:"value"`
}

// StringProperty creates a string-typed property.
func StringProperty(name, v string) Property {
	return Property{Name: name, Type: TypeString, Value: v}
}

// IntProperty creates an int-typed property.
func IntProperty(name string, v int) Property {
	return Property{Name: name, Type: TypeInt, Value: v}
}

// LongProperty creates an int64-typed property.
func LongProperty(name string, v int64) Property {
	return Property{Name: name, Type: TypeLong, Value: v}
}

// FloatProperty creates a float64-typed property.
func FloatProperty(name string, v float64) Property {
	return Property{Name: name, Type: TypeFloat, Value: v}
}

// BoolProperty creates a bool-typed property.
func BoolProperty(name string, v bool) Property {
	return Property{Name: name, Type: TypeBool, Value: v}
}

// FormatValue renders the value without type decoration, as written by
// line-oriented consumers.
func (p Property) FormatValue() string {
	switch v := p.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (p Property) String() string {
	return fmt.Sprintf("%s(%s): %s", p.Name, p.Type, p.FormatValue())
}
