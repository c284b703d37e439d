package rpc

import (
	"github.com/vietddude/activitywatch/internal/infra/rpc/provider"
)

// NewHTTPOperation creates an Operation for HTTP JSON-RPC calls.
func NewHTTPOperation(method string, params ...any) Operation {
	return provider.Operation{
		Name:   method,
		Params: params,
	}
}
