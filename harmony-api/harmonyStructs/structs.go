package harmonyStructs

import "encoding/json"

type Function struct {
	Action string `json:"action"`
	Label  string `json:"label"`
	Name   string `json:"name"`
}

type ControlGroup struct {
	Name     string     `json:"name"`
	Function []Function `json:"function"`
}

type Activity struct {
	Id           string         `json:"id"`
	Label        string         `json:"label"`
	Type         string         `json:"type,omitempty"`
	ControlGroup []ControlGroup `json:"controlGroup"`
}

type Device struct {
	Id           string         `json:"id"`
	Label        string         `json:"label"`
	Manufacturer string         `json:"manufacturer,omitempty"`
	Model        string         `json:"model,omitempty"`
	Type         string         `json:"type,omitempty"`
	ControlGroup []ControlGroup `json:"controlGroup"`
}

// Config is the subset of the hub configuration the derived queries read.
// Everything else in the reply stays available through the raw reply.
type Config struct {
	Activity []Activity `json:"activity"`
	Device   []Device   `json:"device"`
}

type ActivitySummary struct {
	Id    string `json:"id"`
	Label string `json:"label"`
}

// Command is a decoded function of an activity or device. Action holds the
// decoded action object; pass string(Action) to SendCommand.
type Command struct {
	Action json.RawMessage `json:"action"`
	Label  string          `json:"label"`
}

// StateDigest is the data part of a connect.stateDigest?notify push.
type StateDigest struct {
	ActivityId          string `json:"activityId"`
	ActivityStatus      int    `json:"activityStatus"`
	RunningActivityList string `json:"runningActivityList,omitempty"`
}

// ActivityStarted is the data part of a harmony.engine?startActivityFinished push.
type ActivityStarted struct {
	ActivityId  string          `json:"activityId"`
	ErrorCode   json.RawMessage `json:"errorCode,omitempty"`
	ErrorString string          `json:"errorString,omitempty"`
}
