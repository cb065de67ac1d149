package bridge

import (
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/orchestra-mcp/chatsync/src/types"
)

// envelope wraps an event with the originating instance id so that a
// process can skip its own published events.
type envelope struct {
	InstanceID string      `cbor:"1,keyasint"`
	SentAt     time.Time   `cbor:"2,keyasint"`
	Event      types.Event `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("bridge: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("bridge: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeEnvelope(env envelope) ([]byte, error) {
	return encMode.Marshal(env)
}

func decodeEnvelope(data []byte) (envelope, error) {
	var env envelope
	err := decMode.Unmarshal(data, &env)
	return env, err
}
