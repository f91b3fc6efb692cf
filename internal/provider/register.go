package provider

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/emirozbir/alertflow/internal/apperr"
	"github.com/emirozbir/alertflow/internal/config"
	"github.com/emirozbir/alertflow/internal/registry"
)

// Capabilities lists the optional interfaces a provider type implements.
type Capabilities struct {
	Querier        bool `json:"query"`
	Notifier       bool `json:"notify"`
	Fetcher        bool `json:"get_alerts"`
	ScopeValidator bool `json:"validate_scopes"`
	Consumer       bool `json:"consumer"`
	StatusReporter bool `json:"status"`
	Exposer        bool `json:"expose"`
}

// Constructor builds a provider from its configuration.
type Constructor[P Provider] func(cfg config.ProviderConfig, logger *zap.Logger) (P, error)

// Registration describes one provider type.
type Registration struct {
	Type              string       `json:"type"`
	DisplayName       string       `json:"display_name,omitempty"`
	Tags              []Tag        `json:"tags"`
	FingerprintFields []string     `json:"fingerprint_fields,omitempty"`
	Scopes            []Scope      `json:"scopes,omitempty"`
	Capabilities      Capabilities `json:"capabilities"`

	Format       FormatFunc    `json:"-"`
	ParseRawBody RawBodyParser `json:"-"`
	Fixtures     Fixtures      `json:"-"`

	construct func(cfg config.ProviderConfig, logger *zap.Logger) (Provider, error)
}

var types = registry.New[*Registration]()

// Register adds a provider type. Capabilities are derived from P, so P
// should be the concrete pointer type the constructor returns.
func Register[P Provider](reg Registration, ctor Constructor[P]) error {
	if ctor == nil {
		return fmt.Errorf("provider %s: constructor required", reg.Type)
	}

	var zero P
	reg.Capabilities = capabilitiesOf(zero)
	reg.construct = func(cfg config.ProviderConfig, logger *zap.Logger) (Provider, error) {
		p, err := ctor(cfg, logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return types.Register(reg.Type, &reg)
}

// MustRegister is Register for init functions.
func MustRegister[P Provider](reg Registration, ctor Constructor[P]) {
	if err := Register(reg, ctor); err != nil {
		panic(err)
	}
}

// Lookup returns the registration of providerType.
func Lookup(providerType string) (*Registration, error) {
	reg, ok := types.Get(providerType)
	if !ok {
		return nil, apperr.New(apperr.CodeProviderNotFound, fmt.Sprintf("provider type %s is not registered", providerType), apperr.ErrProviderNotFound)
	}
	return reg, nil
}

// Registrations returns every registered type sorted by name.
func Registrations() []*Registration {
	names := types.Names()
	out := make([]*Registration, 0, len(names))
	for _, name := range names {
		reg, _ := types.Get(name)
		out = append(out, reg)
	}
	return out
}

// IsConsumer reports whether providerType ingests from a stream.
func IsConsumer(providerType string) bool {
	reg, err := Lookup(providerType)
	return err == nil && reg.Capabilities.Consumer
}

func capabilitiesOf(p Provider) Capabilities {
	_, querier := p.(Querier)
	_, notifier := p.(Notifier)
	_, fetcher := p.(AlertFetcher)
	_, scopes := p.(ScopeValidator)
	_, consumer := p.(Consumer)
	_, status := p.(StatusReporter)
	_, exposer := p.(Exposer)
	return Capabilities{
		Querier:        querier,
		Notifier:       notifier,
		Fetcher:        fetcher,
		ScopeValidator: scopes,
		Consumer:       consumer,
		StatusReporter: status,
		Exposer:        exposer,
	}
}

// DecodeAuthentication decodes the authentication block of cfg into out,
// accepting loosely typed values such as "30s" for durations.
func DecodeAuthentication(cfg config.ProviderConfig, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(cfg.Authentication); err != nil {
		return apperr.New(apperr.CodeConfig, fmt.Sprintf("provider %s: invalid authentication", cfg.ID), err)
	}
	return nil
}
