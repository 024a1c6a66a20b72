package troupe

import (
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/troupe/actor"
	"github.com/roasbeef/troupe/remote"
)

// TextMsg is a plain text message, the lingua franca of the demo binaries
// and a convenient smoke-test payload for fresh deployments.
type TextMsg struct {
	actor.BaseMessage

	// Text is the payload.
	Text string
}

// TextMsgType is the wire tag of TextMsg.
const TextMsgType = "troupe.text"

// MessageType returns the text message type tag.
func (TextMsg) MessageType() string {
	return TextMsgType
}

// textCodec serializes TextMsg as raw UTF-8 bytes.
type textCodec struct{}

func (textCodec) Marshal(msg actor.Message) ([]byte, error) {
	tm, ok := msg.(*TextMsg)
	if !ok {
		return nil, fmt.Errorf("textCodec got %T", msg)
	}

	return []byte(tm.Text), nil
}

func (textCodec) Unmarshal(data []byte) (actor.Message, error) {
	return &TextMsg{Text: string(data)}, nil
}

// RegisterTextCodec installs the TextMsg codec on the runtime.
func RegisterTextCodec(r *Runtime) {
	r.RegisterCodec(TextMsgType, textCodec{})
}

// EchoBehavior replies to every text message with its own payload. Useful
// as a published smoke-test actor.
func EchoBehavior() actor.Behavior {
	return actor.FuncBehavior(func(ctx *actor.Context,
		msg actor.Message) fn.Result[actor.Message] {

		tm, ok := msg.(*TextMsg)
		if !ok {
			return actor.Skip()
		}

		return actor.Reply(&TextMsg{Text: tm.Text})
	})
}

var _ = remote.Codec(textCodec{})
