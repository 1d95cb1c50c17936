package vision

import (
	"context"
	"errors"

	"tick-relay/api/internal/util"
)

// Relay validates an upload and hands it to an engine. It holds no per-request state.
type Relay struct {
	engine Engine
}

func NewRelay(engine Engine) *Relay {
	return &Relay{engine: engine}
}

// Engine returns the default engine.
func (r *Relay) Engine() Engine { return r.engine }

// Classify runs the upload through the default engine.
func (r *Relay) Classify(ctx context.Context, img UploadedImage) (ClassificationResult, error) {
	return r.ClassifyWith(ctx, r.engine, img)
}

// ClassifyWith runs the upload through eng. Errors are always one of
// *InvalidInputError, *UpstreamError or *InternalError.
func (r *Relay) ClassifyWith(ctx context.Context, eng Engine, img UploadedImage) (ClassificationResult, error) {
	if !util.IsImageMediaType(img.MediaType) {
		return ClassificationResult{}, &InvalidInputError{Detail: "Please upload an image file"}
	}
	if eng == nil {
		return ClassificationResult{}, &InternalError{Err: errors.New("no engine configured")}
	}

	text, err := eng.Classify(ctx, img)
	if err != nil {
		return ClassificationResult{}, normalize(err)
	}
	return ClassificationResult{Result: text}, nil
}

func normalize(err error) error {
	var inv *InvalidInputError
	if errors.As(err, &inv) {
		return inv
	}
	var up *UpstreamError
	if errors.As(err, &up) {
		return up
	}
	var in *InternalError
	if errors.As(err, &in) {
		return in
	}
	return &InternalError{Err: err}
}
