// Wrap the json library to control encoding. Encoders registered
// here are applied to every marshal that goes through this package,
// so timestamps and dicts render the same everywhere.

package json

import (
	"bytes"
	"sync"

	"github.com/Velocidex/json"
	"github.com/Velocidex/ordereddict"
)

var (
	mu       sync.Mutex
	handlers = []*encoderHandler{}
)

type encoderHandler struct {
	sample interface{}
	cb     json.EncoderCallback
}

// RegisterCustomEncoder adds an encoder for the type of sample.
// Should be called once from an init() function.
func RegisterCustomEncoder(sample interface{}, cb json.EncoderCallback) {
	mu.Lock()
	defer mu.Unlock()

	handlers = append(handlers, &encoderHandler{sample, cb})
}

// NewEncOpts returns encoding options carrying all the registered
// encoders.
func NewEncOpts() *json.EncOpts {
	mu.Lock()
	defer mu.Unlock()

	opts := json.NewEncOpts()
	for _, h := range handlers {
		opts.WithCallback(h.sample, h.cb)
	}
	return opts
}

// Dicts are encoded by hand so the registered encoders apply to each
// member as well. An unencodable member renders as null rather than
// failing the whole dict.
func marshalDict(v interface{}, opts *json.EncOpts) ([]byte, error) {
	self, ok := v.(*ordereddict.Dict)
	if !ok {
		return nil, json.EncoderCallbackSkip
	}

	buf := bytes.Buffer{}
	buf.WriteByte('{')

	first := true
	for _, k := range self.Keys() {
		key, err := json.MarshalWithOptions(k, opts)
		if err != nil {
			continue
		}

		if !first {
			buf.WriteByte(',')
		}
		first = false

		buf.Write(key)
		buf.WriteByte(':')

		value, _ := self.Get(k)
		serialized, err := json.MarshalWithOptions(value, opts)
		if err != nil {
			buf.WriteString("null")
			continue
		}
		buf.Write(serialized)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func init() {
	RegisterCustomEncoder(ordereddict.NewDict(), marshalDict)
}
