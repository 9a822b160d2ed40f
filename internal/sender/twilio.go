package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/unclebandit/vendor-dispatch/internal/config"
	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
)

// Twilio error codes we treat specially.
const (
	twilioInvalidToNumber = 21211
	twilioAuthFailed      = 20003
	twilioTooManyRequests = 20429
)

// MessageCreator is the slice of the Twilio API we use.
type MessageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioProvider sends WhatsApp messages through Twilio's Messages API.
type TwilioProvider struct {
	api  MessageCreator
	from string
}

func NewTwilioProvider(cfg config.WhatsAppConfig) (*TwilioProvider, error) {
	if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" {
		return nil, appErrors.Configf("twilio credentials not configured")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return NewTwilioProviderWithAPI(client.Api, cfg.From), nil
}

func NewTwilioProviderWithAPI(api MessageCreator, from string) *TwilioProvider {
	return &TwilioProvider{api: api, from: from}
}

// Send expects `to` in E.164 form; the whatsapp: prefix is added here.
func (p *TwilioProvider) Send(ctx context.Context, to, _ string, body string) (ProviderResponse, error) {
	if err := ctx.Err(); err != nil {
		return ProviderResponse{ErrorCode: ErrorCodeTransient, Message: err.Error()}, nil
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom(p.from)
	params.SetTo("whatsapp:" + to)
	params.SetBody(body)

	msg, err := p.api.CreateMessage(params)
	if err != nil {
		return classifyTwilio(err)
	}
	resp := ProviderResponse{OK: true}
	if msg != nil && msg.Sid != nil {
		resp.MessageID = *msg.Sid
	}
	return resp, nil
}

func classifyTwilio(err error) (ProviderResponse, error) {
	var rest *twclient.TwilioRestError
	if !errors.As(err, &rest) {
		return ProviderResponse{ErrorCode: ErrorCodeTransient, Message: "network or configuration error"}, nil
	}
	switch {
	case rest.Status == http.StatusTooManyRequests || rest.Code == twilioTooManyRequests:
		return ProviderResponse{ErrorCode: ErrorCodeRateLimited, Message: rest.Message}, nil
	case rest.Code == twilioAuthFailed || rest.Status == http.StatusUnauthorized:
		return ProviderResponse{}, fmt.Errorf("%w: invalid twilio authentication credentials", appErrors.ErrProviderUnavailable)
	case rest.Code == twilioInvalidToNumber:
		return rejected("invalid phone number format for WhatsApp"), nil
	case rest.Status >= 500:
		return ProviderResponse{ErrorCode: ErrorCodeTransient, Message: rest.Message}, nil
	case rest.Message != "":
		return rejected("twilio error: " + rest.Message), nil
	}
	return rejected("failed to send WhatsApp message"), nil
}
