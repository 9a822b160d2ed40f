// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks failures that abort a whole chunk: a missing
	// template, missing provider credentials, a campaign with no channel.
	ErrConfiguration = errors.New("configuration error")

	// ErrProviderUnavailable means the provider cannot be reached at all or
	// rejects our credentials. Also fatal to the chunk.
	ErrProviderUnavailable = errors.New("provider unavailable")

	ErrInvalidTransition = errors.New("invalid campaign status transition")

	ErrValidation = errors.New("validation error")
)

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrTemplateNotFound struct {
	TemplateID string
}

func (e *ErrTemplateNotFound) Error() string {
	return fmt.Sprintf("template with ID %s not found", e.TemplateID)
}

// A missing template is a configuration problem for whoever dispatches it.
func (e *ErrTemplateNotFound) Unwrap() error { return ErrConfiguration }

func NewTemplateNotFound(id string) error {
	return &ErrTemplateNotFound{TemplateID: id}
}

type ErrVendorNotFound struct {
	VendorID string
}

func (e *ErrVendorNotFound) Error() string {
	return fmt.Sprintf("vendor with ID %s not found", e.VendorID)
}

func NewVendorNotFound(id string) error {
	return &ErrVendorNotFound{VendorID: id}
}

// Configf builds an ErrConfiguration with context.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Invalidf builds an ErrValidation for bad caller input.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// IsNotFound reports whether err is any of the not-found errors.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var t *ErrTemplateNotFound
	var v *ErrVendorNotFound
	return errors.As(err, &c) || errors.As(err, &t) || errors.As(err, &v)
}
