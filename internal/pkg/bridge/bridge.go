// Package bridge defines the bidirectional messaging channel between the
// swap agent and the native host: named commands go out, named callback
// events come back. Two implementations are provided, an MQTT-backed channel
// for production and an in-process loopback for development and tests.
package bridge

import (
	"encoding/json"
	"strconv"
)

// Command names understood by the native side of the channel.
const (
	CmdSubscribeTopic     = "mqttSubTopic"
	CmdPublishMessage     = "mqttPublishMsg"
	CmdUnsubscribeTopic   = "mqttUnSubTopic"
	CmdStartBleScan       = "startBleScan"
	CmdStopBleScan        = "stopBleScan"
	CmdConnectBle         = "connectBle"
	CmdDisconnectBle      = "disconnectBle"
	CmdBleInitServiceData = "bleInitServiceData"
)

// Event names the native side delivers back to registered handlers.
const (
	EventMqttMsgArrived           = "mqttMsgArrivedCallBack"
	EventFindBleDevice            = "findBleDeviceCallBack"
	EventBleConnectSuccess        = "bleConnectSuccessCallBack"
	EventBleConnectFail           = "bleConnectFailCallBack"
	EventBleServiceDataOnProgress = "bleInitServiceDataOnProgressCallBack"
	EventBleServiceDataOnComplete = "bleInitServiceDataOnCompleteCallBack"
	EventBleServiceDataFailure    = "bleInitServiceDataFailureCallBack"
)

// Handler receives the raw JSON payload of one inbound event.
type Handler func(payload json.RawMessage)

// Callback receives the single asynchronous acknowledgment of a command.
type Callback func(ack Ack)

// Channel is the messaging channel contract. Handler registration is
// last-registration-wins per event name.
type Channel interface {
	RegisterHandler(event string, h Handler)
	UnregisterHandler(event string)
	CallHandler(command string, payload interface{}, cb Callback)
}

// StatusCode is an acknowledgment code that arrives either as the string
// "200" or as a bare number.
type StatusCode string

// StatusOK is the only positive acknowledgment code.
const StatusOK StatusCode = "200"

func (c *StatusCode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = StatusCode(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = StatusCode(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

func (c StatusCode) OK() bool {
	return c == StatusOK
}

// Ack is a command acknowledgment. A non-"200" code plus RespDesc or Error
// describes the failure.
type Ack struct {
	Code     StatusCode      `json:"code"`
	RespDesc string          `json:"respDesc,omitempty"`
	Error    string          `json:"error,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the command was acknowledged positively.
func (a Ack) OK() bool {
	return a.Code.OK()
}

// Reason returns the failure description, preferring respDesc over error.
func (a Ack) Reason() string {
	if a.RespDesc != "" {
		return a.RespDesc
	}
	return a.Error
}

// AckOK builds a positive acknowledgment.
func AckOK() Ack {
	return Ack{Code: StatusOK}
}

// AckFail builds a failed acknowledgment with the given code and description.
func AckFail(code, respDesc string) Ack {
	return Ack{Code: StatusCode(code), RespDesc: respDesc}
}

// SubscribePayload is the payload of CmdSubscribeTopic / CmdUnsubscribeTopic.
type SubscribePayload struct {
	Topic string `json:"topic"`
}

// PublishPayload is the payload of CmdPublishMessage.
type PublishPayload struct {
	Topic   string      `json:"topic"`
	Qos     int         `json:"qos"`
	Content interface{} `json:"content"`
}

// Decode round-trips a command payload through JSON into dst. Command
// payloads cross the channel as JSON regardless of implementation, so this
// is the canonical way for a command handler to read one.
func Decode(payload interface{}, dst interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
