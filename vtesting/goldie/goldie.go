// A thin wrapper around goldie that fixes the fixture directory and
// marshals through our json package, so golden files pick up the
// registered encoders (UTC timestamps etc).

package goldie

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"www.velocidex.com/golang/psutils/json"
)

func Assert(t *testing.T, filename string, golden []byte) {
	t.Helper()

	g := goldie.New(t)
	_ = g.WithFixtureDir("fixtures")
	g.Assert(t, filename, golden)
}

func AssertJson(t *testing.T, filename string, golden interface{}) {
	t.Helper()

	Assert(t, filename, json.MustMarshalIndent(golden))
}
