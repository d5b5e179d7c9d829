package harmonyHbus

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Hub verbs.
const (
	CmdStateDigest        = "vnd.logitech.connect/vnd.logitech.statedigest?get"
	CmdProvisionInfo      = "setup.account?getProvisionInfo"
	CmdProxyResource      = "proxy.resource?get"
	CmdConfig             = "vnd.logitech.harmony/vnd.logitech.harmony.engine?config"
	CmdCurrentActivity    = "vnd.logitech.harmony/vnd.logitech.harmony.engine?getCurrentActivity"
	CmdRunActivity        = "harmony.activityengine?runactivity"
	CmdHoldAction         = "vnd.logitech.harmony/vnd.logitech.harmony.engine?holdAction"
	CmdAutomationState    = "harmony.automation?getstate"
	CmdAutomationSetState = "harmony.automation?setstate"
)

// Push notification types sent by the hub without a correlating id.
const (
	TypeStateDigest     = "connect.stateDigest?notify"
	TypeAutomationState = "automation.state?notify"
	TypeActivityStarted = "harmony.engine?startActivityFinished"
)

// DefaultTimeout is the envelope timeout field in seconds.
const DefaultTimeout = 30

type Hbus struct {
	Cmd    string `json:"cmd"`
	Id     int64  `json:"id"`
	Params any    `json:"params"`
}

type Envelope struct {
	HubId   string `json:"hubId"`
	Timeout int    `json:"timeout"`
	Hbus    Hbus   `json:"hbus"`
}

func NewEnvelope(hubId string, cmd string, params any) Envelope {
	if params == nil {
		params = map[string]any{}
	}
	return Envelope{
		HubId:   hubId,
		Timeout: DefaultTimeout,
		Hbus:    Hbus{Cmd: cmd, Params: params},
	}
}

// Message is any inbound frame. Replies carry the id of the request they
// answer, pushes carry a Type.
type Message struct {
	Type string          `json:"type,omitempty"`
	Id   json.RawMessage `json:"id,omitempty"`
	Cmd  string          `json:"cmd,omitempty"`
	Code json.RawMessage `json:"code,omitempty"`
	Msg  string          `json:"msg,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// Unpack decodes an inbound frame and keeps the original bytes.
func Unpack(frame []byte) (*Message, error) {
	m := &Message{}
	if err := json.Unmarshal(frame, m); err != nil {
		return nil, err
	}
	m.Raw = append(json.RawMessage(nil), frame...)
	return m, nil
}

// ScalarString reads a JSON string or number as a string. The hub sends
// ids either way. ok is false for absent, null or empty values.
func ScalarString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", false
		}
		return s, true
	}
	return string(raw), true
}

// RequestId returns the correlation id as a string.
func (m *Message) RequestId() (string, bool) {
	return ScalarString(m.Id)
}

// StatusCode returns Code as an int, 0 when absent or malformed.
func (m *Message) StatusCode() int {
	raw := bytes.Trim(bytes.TrimSpace(m.Code), `"`)
	c, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0
	}
	return c
}

// FormatId renders an outbound id the same way RequestId reads it back.
func FormatId(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Ack builds the acknowledgement returned for commands the hub does not answer.
func Ack(cmd string, id int64) *Message {
	m := &Message{
		Cmd:  cmd,
		Code: json.RawMessage("200"),
		Id:   json.RawMessage(FormatId(id)),
		Msg:  "OK",
	}
	m.Raw, _ = json.Marshal(m)
	return m
}
