// internal/stream/protocol.go

// Package stream implements the line-oriented data stream protocol used to
// relay generated text to clients. Every part is "<code>:<json>\n".
package stream

import (
	"github.com/Corphon/StoryTeller/internal/models"
)

// Part type codes
const (
	PartText          = '0'
	PartError         = '3'
	PartStartStep     = 'f'
	PartFinishStep    = 'e'
	PartFinishMessage = 'd'
)

// Response headers
const (
	HeaderName    = "X-Vercel-AI-Data-Stream"
	HeaderVersion = "v1"
	ContentType   = "text/plain; charset=utf-8"
)

type startStep struct {
	MessageID string `json:"messageId"`
}

type finishStep struct {
	FinishReason models.FinishReason `json:"finishReason"`
	Usage        models.Usage        `json:"usage"`
	IsContinued  bool                `json:"isContinued"`
}

type finishMessage struct {
	FinishReason models.FinishReason `json:"finishReason"`
	Usage        models.Usage        `json:"usage"`
}
