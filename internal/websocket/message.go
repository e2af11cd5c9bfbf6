package websocket

import (
	"time"
)

// Outbound frame types. Inbound traffic is the raw bridge protocol and is
// handed to the map session untouched.
const (
	FrameScript = "script"
	FrameError  = "error"
)

// Frame is one outbound websocket message. The hosted page evaluates the
// script of a script frame.
type Frame struct {
	Type      string `json:"type"`
	Script    string `json:"script,omitempty"`
	Content   string `json:"content,omitempty"`
	ErrorCode string `json:"code,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func NewScriptFrame(script string) *Frame {
	return &Frame{
		Type:      FrameScript,
		Script:    script,
		Timestamp: time.Now().Unix(),
	}
}

func NewErrorFrame(errMsg, code string) *Frame {
	return &Frame{
		Type:      FrameError,
		Content:   errMsg,
		ErrorCode: code,
		Timestamp: time.Now().Unix(),
	}
}
