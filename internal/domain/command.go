package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArgs        = errors.New("bad command args")
)

// TargetAll addresses every live source.
const TargetAll ConnID = "all"

type CommandName string

const (
	CmdStartCapture CommandName = "start-capture"
	CmdStopCapture  CommandName = "stop-capture"
	CmdCapturePhoto CommandName = "capture-photo"
	CmdSwitchDevice CommandName = "switch-device"
	CmdSwitchLens   CommandName = "switch-lens"
	CmdApplySetting CommandName = "apply-setting"
	CmdRequestState CommandName = "request-state"
	CmdSetTether    CommandName = "set-tether"
	CmdSetAudioMode CommandName = "set-audio-mode"
	CmdSetTrackMode CommandName = "set-track-mode"
)

// Command is a controller to source instruction. The set of implementations
// is closed; ParseCommand is the only way in from the wire.
type Command interface {
	Name() CommandName
	command()
}

type StartCapture struct{}

type StopCapture struct{}

type CapturePhoto struct{}

type RequestState struct{}

// SwitchDevice cycles to the next device when DeviceID is empty.
type SwitchDevice struct {
	DeviceID string `json:"deviceId,omitempty"`
}

type SwitchLens struct {
	DeviceID string `json:"deviceId"`
}

// ApplySetting carries only the settings the controller wants changed.
type ApplySetting struct {
	Torch                *bool    `json:"torch,omitempty"`
	Zoom                 *float64 `json:"zoom,omitempty"`
	ExposureCompensation *float64 `json:"exposureCompensation,omitempty"`
	FocusMode            *string  `json:"focusMode,omitempty"`
	FocusDistance        *float64 `json:"focusDistance,omitempty"`
	Resolution           *string  `json:"resolution,omitempty"`
	FrameRate            *float64 `json:"frameRate,omitempty"`
	Bitrate              *int64   `json:"bitrate,omitempty"`
}

type SetTether struct {
	Enabled bool `json:"enabled"`
}

type AudioMode string

const (
	AudioPro   AudioMode = "pro"
	AudioVoice AudioMode = "voice"
)

type SetAudioMode struct {
	Mode AudioMode `json:"mode"`
}

type TrackMode string

const (
	TrackOff    TrackMode = "off"
	TrackFace   TrackMode = "face"
	TrackObject TrackMode = "object"
)

type SetTrackMode struct {
	Mode TrackMode `json:"mode"`
}

func (StartCapture) Name() CommandName { return CmdStartCapture }
func (StopCapture) Name() CommandName  { return CmdStopCapture }
func (CapturePhoto) Name() CommandName { return CmdCapturePhoto }
func (RequestState) Name() CommandName { return CmdRequestState }
func (SwitchDevice) Name() CommandName { return CmdSwitchDevice }
func (SwitchLens) Name() CommandName   { return CmdSwitchLens }
func (ApplySetting) Name() CommandName { return CmdApplySetting }
func (SetTether) Name() CommandName    { return CmdSetTether }
func (SetAudioMode) Name() CommandName { return CmdSetAudioMode }
func (SetTrackMode) Name() CommandName { return CmdSetTrackMode }

func (StartCapture) command() {}
func (StopCapture) command()  {}
func (CapturePhoto) command() {}
func (RequestState) command() {}
func (SwitchDevice) command() {}
func (SwitchLens) command()   {}
func (ApplySetting) command() {}
func (SetTether) command()    {}
func (SetAudioMode) command() {}
func (SetTrackMode) command() {}

func (c SwitchLens) validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("%w: deviceId required", ErrBadArgs)
	}
	return nil
}

func (c ApplySetting) validate() error {
	if c == (ApplySetting{}) {
		return fmt.Errorf("%w: no settings given", ErrBadArgs)
	}
	return nil
}

func (c SetAudioMode) validate() error {
	switch c.Mode {
	case AudioPro, AudioVoice:
		return nil
	}
	return fmt.Errorf("%w: audio mode %q", ErrBadArgs, c.Mode)
}

func (c SetTrackMode) validate() error {
	switch c.Mode {
	case TrackOff, TrackFace, TrackObject:
		return nil
	}
	return fmt.Errorf("%w: track mode %q", ErrBadArgs, c.Mode)
}

type validator interface {
	validate() error
}

// ParseCommand turns a wire name and raw args into a typed command. Unknown
// names and args that do not fit the command's shape are rejected.
func ParseCommand(name string, args json.RawMessage) (Command, error) {
	var cmd Command
	switch CommandName(name) {
	case CmdStartCapture:
		cmd = &StartCapture{}
	case CmdStopCapture:
		cmd = &StopCapture{}
	case CmdCapturePhoto:
		cmd = &CapturePhoto{}
	case CmdRequestState:
		cmd = &RequestState{}
	case CmdSwitchDevice:
		cmd = &SwitchDevice{}
	case CmdSwitchLens:
		cmd = &SwitchLens{}
	case CmdApplySetting:
		cmd = &ApplySetting{}
	case CmdSetTether:
		cmd = &SetTether{}
	case CmdSetAudioMode:
		cmd = &SetAudioMode{}
	case CmdSetTrackMode:
		cmd = &SetTrackMode{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	if len(bytes.TrimSpace(args)) > 0 && !bytes.Equal(bytes.TrimSpace(args), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(args))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cmd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
		}
	}

	if v, ok := cmd.(validator); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}

	// Dereference so callers switch on value types.
	switch c := cmd.(type) {
	case *StartCapture:
		return *c, nil
	case *StopCapture:
		return *c, nil
	case *CapturePhoto:
		return *c, nil
	case *RequestState:
		return *c, nil
	case *SwitchDevice:
		return *c, nil
	case *SwitchLens:
		return *c, nil
	case *ApplySetting:
		return *c, nil
	case *SetTether:
		return *c, nil
	case *SetAudioMode:
		return *c, nil
	case *SetTrackMode:
		return *c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}
