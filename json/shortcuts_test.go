package json_test

import (
	"testing"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/psutils/json"
	"www.velocidex.com/golang/psutils/vtesting/goldie"
)

func TestJsonFormat(t *testing.T) {
	obj := ordereddict.NewDict().Set("Foo", "Bar")
	subquery := json.Format(`{"Foo": %q}`, "Bar")

	query := json.Format(`{"a": %q, "b": %q, "integer": %q, "string": %q, "subquery": %s}`,
		obj, obj, 1, "hello", subquery)
	goldie.Assert(t, "TestJsonFormat", []byte(query))
}
