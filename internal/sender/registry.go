package sender

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/unclebandit/vendor-dispatch/internal/config"
	appErrors "github.com/unclebandit/vendor-dispatch/internal/errors"
	"github.com/unclebandit/vendor-dispatch/internal/model"
	"github.com/unclebandit/vendor-dispatch/internal/repository"
)

// Registry resolves the sender for a channel.
type Registry struct {
	senders  map[model.Channel]ChannelSender
	problems map[model.Channel]error
}

func NewRegistry(senders ...ChannelSender) *Registry {
	r := &Registry{
		senders:  map[model.Channel]ChannelSender{},
		problems: map[model.Channel]error{},
	}
	for _, s := range senders {
		r.senders[s.Channel()] = s
	}
	return r
}

// NewRegistryFromConfig builds every channel it has credentials for. A
// channel without credentials stays unregistered and Lookup reports why.
func NewRegistryFromConfig(cfg *config.Config, ledger repository.LedgerInterface, responses repository.ResponseRepositoryInterface, log zerolog.Logger) *Registry {
	r := NewRegistry()

	if p, err := NewSMTPProvider(cfg.Email); err != nil {
		r.problems[model.ChannelEmail] = err
		log.Warn().Err(err).Msg("email channel disabled")
	} else {
		r.senders[model.ChannelEmail] = NewEmailSender(p, cfg.Email.RatePerSecond, ledger, responses, log)
	}

	if p, err := NewTwilioProvider(cfg.WhatsApp); err != nil {
		r.problems[model.ChannelWhatsApp] = err
		log.Warn().Err(err).Msg("whatsapp channel disabled")
	} else {
		r.senders[model.ChannelWhatsApp] = NewWhatsAppSender(p, cfg.WhatsApp.RatePerSecond, cfg.WhatsApp.DefaultCountryCode, ledger, responses, log)
	}
	return r
}

// Lookup returns an ErrConfiguration when the channel has no sender.
func (r *Registry) Lookup(ch model.Channel) (ChannelSender, error) {
	if s, ok := r.senders[ch]; ok {
		return s, nil
	}
	if err := r.problems[ch]; err != nil {
		if errors.Is(err, appErrors.ErrConfiguration) {
			return nil, err
		}
		return nil, appErrors.Configf("%s channel unavailable: %v", ch, err)
	}
	return nil, appErrors.Configf("no sender configured for %s channel", ch)
}
