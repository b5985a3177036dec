// Package overlay selects the overlay layer composited onto transform output.
package overlay

import (
	"fmt"
	"slices"

	"github.com/cuongbtq/transform-pipeline/internal/domain"
)

// Canonical lists every supported aspect ratio
var Canonical = []domain.AspectRatio{
	domain.AspectRatioSquare,
	domain.AspectRatio3x2,
	domain.AspectRatio2x3,
	domain.AspectRatio4x5,
	domain.AspectRatio5x4,
	domain.AspectRatioPortrait,
	domain.AspectRatioLandscape,
}

var ratiosByMedia = map[domain.MediaType][]domain.AspectRatio{
	domain.MediaTypeImage: {
		domain.AspectRatioSquare,
		domain.AspectRatio3x2,
		domain.AspectRatio2x3,
		domain.AspectRatio4x5,
		domain.AspectRatio5x4,
		domain.AspectRatioPortrait,
		domain.AspectRatioLandscape,
	},
	domain.MediaTypeVideo: {
		domain.AspectRatioSquare,
		domain.AspectRatioPortrait,
		domain.AspectRatioLandscape,
	},
}

// Resolve picks the overlay for an aspect ratio, falling back to the "default" entry.
//
// A ratio key that is present with a null value is an explicit "no overlay" for
// that ratio and does not fall back: {"3:2": nil, "default": D} resolves 3:2 to
// nil. Only an absent key consults "default", which may itself be null.
// It performs no validation: ratio/media compatibility is enforced when configuration is loaded.
func Resolve(overlays map[string]*domain.MediaRef, applyOverlay bool, ratio domain.AspectRatio) *domain.MediaRef {
	if !applyOverlay {
		return nil
	}
	if overlays == nil {
		return nil
	}
	if ref, ok := overlays[string(ratio)]; ok {
		return ref
	}
	return overlays[domain.OverlayDefaultKey]
}

// RatiosFor returns the aspect ratios a media type may be configured with
func RatiosFor(mediaType domain.MediaType) []domain.AspectRatio {
	return slices.Clone(ratiosByMedia[mediaType])
}

// Validate checks an experience's ratio against its media type
func Validate(mediaType domain.MediaType, ratio domain.AspectRatio) error {
	allowed, ok := ratiosByMedia[mediaType]
	if !ok {
		return &domain.ValidationError{Field: "media_type", Reason: fmt.Sprintf("unsupported media type %q", mediaType)}
	}
	if !slices.Contains(allowed, ratio) {
		return &domain.ValidationError{
			Field:  "aspect_ratio",
			Reason: fmt.Sprintf("%q is not available for %s", ratio, mediaType),
		}
	}
	return nil
}
