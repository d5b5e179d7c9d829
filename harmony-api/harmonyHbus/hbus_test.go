package harmonyHbus

import (
	"encoding/json"
	"testing"
)

func TestRequestId(t *testing.T) {
	cases := []struct {
		frame string
		want  string
		ok    bool
	}{
		{frame: `{"id":42,"code":200}`, want: "42", ok: true},
		{frame: `{"id":"42","code":"200"}`, want: "42", ok: true},
		{frame: `{"id":null,"type":"connect.stateDigest?notify"}`, ok: false},
		{frame: `{"type":"connect.stateDigest?notify"}`, ok: false},
		{frame: `{"id":""}`, ok: false},
	}
	for _, tc := range cases {
		m, err := Unpack([]byte(tc.frame))
		if err != nil {
			t.Fatalf("unpack %s: %v", tc.frame, err)
		}
		got, ok := m.RequestId()
		if got != tc.want || ok != tc.ok {
			t.Fatalf("RequestId(%s) = %q %v, want %q %v", tc.frame, got, ok, tc.want, tc.ok)
		}
	}
}

func TestStatusCode(t *testing.T) {
	for frame, want := range map[string]int{
		`{"code":200}`:   200,
		`{"code":"417"}`: 417,
		`{"code":"bad"}`: 0,
		`{}`:             0,
	} {
		m, err := Unpack([]byte(frame))
		if err != nil {
			t.Fatalf("unpack %s: %v", frame, err)
		}
		if got := m.StatusCode(); got != want {
			t.Fatalf("StatusCode(%s) = %d, want %d", frame, got, want)
		}
	}
}

func TestEnvelopeShape(t *testing.T) {
	env := NewEnvelope("001122", CmdConfig, nil)
	env.Hbus.Id = 7
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"hubId":"001122","timeout":30,"hbus":{"cmd":"vnd.logitech.harmony/vnd.logitech.harmony.engine?config","id":7,"params":{}}}`
	if string(b) != want {
		t.Fatalf("envelope = %s, want %s", b, want)
	}
}

func TestAck(t *testing.T) {
	ack := Ack(CmdHoldAction, 12)
	if ack.StatusCode() != 200 || ack.Msg != "OK" || ack.Cmd != CmdHoldAction {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if id, ok := ack.RequestId(); !ok || id != "12" {
		t.Fatalf("ack id = %q", id)
	}
	if !json.Valid(ack.Raw) {
		t.Fatalf("ack raw is not json: %s", ack.Raw)
	}
}

func TestScalarString(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{raw: `"001122"`, want: "001122", ok: true},
		{raw: `12345678`, want: "12345678", ok: true},
		{raw: ` "-1" `, want: "-1", ok: true},
		{raw: `null`, ok: false},
		{raw: `""`, ok: false},
		{raw: ``, ok: false},
	}
	for _, tc := range cases {
		got, ok := ScalarString(json.RawMessage(tc.raw))
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ScalarString(%s) = %q %v, want %q %v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
