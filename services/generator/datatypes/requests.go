// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxTextBytes bounds any free-form text field of a request.
	MaxTextBytes = 32 * 1024

	// MaxBlocks bounds the number of blocks in a project payload.
	MaxBlocks = 200
)

// ErrInvalidPayload wraps every payload decoding or validation failure.
var ErrInvalidPayload = errors.New("invalid payload")

// requestValidate is shared by all request types.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New()
	_ = requestValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxTextBytes
}

// =============================================================================
// HTTP request bodies
// =============================================================================

// CreateConnectionRequest is the body of POST /v1/connections.
type CreateConnectionRequest struct {
	Kind    string          `json:"kind" validate:"required"`
	Payload json.RawMessage `json:"payload" validate:"required"`
}

// Validate checks the kind and the kind-specific payload.
//
// # Outputs
//
//   - Kind: The parsed kind.
//   - error: ErrUnknownKind or ErrInvalidPayload (wrapped).
func (r *CreateConnectionRequest) Validate() (Kind, error) {
	if err := requestValidate.Struct(r); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	kind, err := ParseKind(r.Kind)
	if err != nil {
		return "", err
	}
	if err := ValidatePayload(kind, r.Payload); err != nil {
		return "", err
	}
	return kind, nil
}

// CreateProjectRequest is the body of POST /v1/projects. Conf carries the
// project payload as a JSON string, the contract of the desktop front end.
type CreateProjectRequest struct {
	Conf string `json:"conf" validate:"required,maxbytes"`
}

// Validate checks the request and returns the embedded payload.
func (r *CreateProjectRequest) Validate() (json.RawMessage, error) {
	if err := requestValidate.Struct(r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	raw := json.RawMessage(r.Conf)
	if err := ValidatePayload(KindProjectCreation, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// CreateRecommendationRequest is the body of POST /v1/recommendations.
type CreateRecommendationRequest = RecommendPayload

// CreateConnectionResponse is returned by every create endpoint.
type CreateConnectionResponse struct {
	ConnectionID string `json:"connection_id"`
	Kind         Kind   `json:"kind"`
}

// ErrorResponse is the JSON error body of the HTTP surface.
type ErrorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// Kind payloads
// =============================================================================

// ProjectPayload describes the system a project_creation run works on.
type ProjectPayload struct {
	Name        string      `json:"name" validate:"required,maxbytes"`
	Description string      `json:"description" validate:"maxbytes"`
	Blocks      []BlockSpec `json:"blocks" validate:"max=200,dive"`
}

// BlockSpec is one user-described block of a project.
type BlockSpec struct {
	Name        string `json:"name" validate:"maxbytes"`
	Description string `json:"description" validate:"maxbytes"`
}

// RecommendPayload carries the free-form requirement of an ai_recommend run.
type RecommendPayload struct {
	Prompt string `json:"prompt" validate:"required,maxbytes"`
}

// DecodeProjectPayload decodes and validates a project payload. Unknown
// fields are ignored; the front end sends its layout alongside.
func DecodeProjectPayload(raw json.RawMessage) (ProjectPayload, error) {
	var p ProjectPayload
	if err := decodePayload(raw, &p); err != nil {
		return ProjectPayload{}, err
	}
	if err := requestValidate.Struct(&p); err != nil {
		return ProjectPayload{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return p, nil
}

// DecodeRecommendPayload decodes and validates a recommend payload.
func DecodeRecommendPayload(raw json.RawMessage) (RecommendPayload, error) {
	var p RecommendPayload
	if err := decodePayload(raw, &p); err != nil {
		return RecommendPayload{}, err
	}
	if err := requestValidate.Struct(&p); err != nil {
		return RecommendPayload{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return p, nil
}

// ValidatePayload checks raw against the payload schema of kind.
func ValidatePayload(kind Kind, raw json.RawMessage) error {
	switch kind {
	case KindProjectCreation:
		_, err := DecodeProjectPayload(raw)
		return err
	case KindAIRecommend:
		_, err := DecodeRecommendPayload(raw)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return nil
}
