// Package oracle talks to the Diagnostic Oracle, the external advisory
// service that turns a component snapshot into issues, component verdicts
// and preventive recommendations.
//
// # Implementations
//
//   - Client: HTTP JSON client for a remote oracle (rate limited, with timeout)
//   - Simulated: built-in rule-based oracle used when no URL is configured
//   - Func: adapter for tests
//
// # Errors
//
// Every failure maps to one of two sentinels so callers can treat the
// cycle as skipped:
//
//   - ErrUnavailable: transport failure, timeout or non-2xx status
//   - ErrMalformedResponse: the body could not be decoded
//
// Missing fields are not errors. Callers run Normalize on every response.
package oracle

import (
	"context"
	"errors"

	"github.com/pilot-net/selfheal/pkg/types"
)

var (
	// ErrUnavailable means the oracle could not be reached in time.
	ErrUnavailable = errors.New("diagnostic oracle unavailable")

	// ErrMalformedResponse means the oracle answered with an undecodable body.
	ErrMalformedResponse = errors.New("malformed oracle response")
)

// Oracle produces diagnoses and predictions for a component snapshot.
type Oracle interface {
	// Diagnose reports current issues and component health.
	Diagnose(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResponse, error)

	// Predict reports preventive actions and forecast issues.
	Predict(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResponse, error)
}

// Func adapts plain functions to Oracle. A nil field answers with an
// empty response.
type Func struct {
	DiagnoseFunc func(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResponse, error)
	PredictFunc  func(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResponse, error)
}

// Diagnose calls DiagnoseFunc.
func (f Func) Diagnose(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResponse, error) {
	if f.DiagnoseFunc == nil {
		return &types.DiagnosisResponse{}, nil
	}
	return f.DiagnoseFunc(ctx, req)
}

// Predict calls PredictFunc.
func (f Func) Predict(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResponse, error) {
	if f.PredictFunc == nil {
		return &types.DiagnosisResponse{}, nil
	}
	return f.PredictFunc(ctx, req)
}
