// Package llm talks to a multimodal model service. The extraction stage only
// depends on the Client interface; the HTTP implementation speaks the
// Anthropic messages API.
package llm

import "context"

// Request is one model invocation: an instruction prompt plus the image it
// refers to.
type Request struct {
	Prompt    string
	Image     []byte
	MediaType string
}

// Client produces the raw text completion for a request.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
