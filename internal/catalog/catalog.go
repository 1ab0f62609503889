// Package catalog holds the localized reply texts of the intake dialogue.
//
// The default ru/kz texts are embedded. An optional YAML override file is merged
// on top and can be reloaded at runtime with Watch.
package catalog

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"gopkg.in/yaml.v3"
)

// Message keys.
const (
	KeyChooseLanguage         = "choose_language"
	KeyInvalidLanguage        = "invalid_language"
	KeySelectUserType         = "select_user_type"
	KeyInvalidUserType        = "invalid_user_type"
	KeyThanks                 = "thanks"
	KeyDealershipName         = "dealership_name"
	KeyDealershipAddress      = "dealership_address"
	KeyDealershipCooperation  = "dealership_cooperation"
	KeyInvalidCooperation     = "invalid_cooperation"
	KeyDealershipID           = "dealership_id"
	KeyDealershipTechPassport = "dealership_techpassport"
	KeyClientCarNumber        = "client_car_number"
	KeyClientCity             = "client_city"
	KeyClientMileage          = "client_mileage"
	KeyClientID               = "client_id"
	KeyClientTechPassport     = "client_techpassport"
	KeySendFile               = "send_file"
	KeyRequestComplete        = "request_complete"
	KeyNewRequest             = "new_request"
	KeyAlreadySubmitted       = "already_submitted"
	KeyTryLater               = "try_later"
)

//go:embed messages.yaml
var defaultMessages []byte

// Lookuper resolves a message for a language.
type Lookuper interface {
	Lookup(lang models.Language, key string) string
}

// Opts holds configuration options for the catalog.
type Opts struct {
	OverridePath string
}

// Option defines a configuration option for the catalog.
type Option func(*Opts)

// WithOverrideFile merges the YAML file at path over the embedded texts.
func WithOverrideFile(path string) Option {
	return func(o *Opts) {
		o.OverridePath = path
	}
}

type table map[models.Language]map[string]string

// Catalog is a concurrency-safe message table.
type Catalog struct {
	mu           sync.RWMutex
	messages     table
	overridePath string
}

// New loads the embedded texts and the optional override file.
func New(opts ...Option) (*Catalog, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	c := &Catalog{overridePath: cfg.OverridePath}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload rebuilds the table from the embedded texts and the override file.
// On error the previous table stays in place.
func (c *Catalog) Reload() error {
	base, err := parse(defaultMessages)
	if err != nil {
		return fmt.Errorf("failed to parse embedded catalog: %w", err)
	}

	if c.overridePath != "" {
		data, err := os.ReadFile(c.overridePath)
		if err != nil {
			return fmt.Errorf("failed to read catalog override %s: %w", c.overridePath, err)
		}
		override, err := parse(data)
		if err != nil {
			return fmt.Errorf("failed to parse catalog override %s: %w", c.overridePath, err)
		}
		for lang, msgs := range override {
			if base[lang] == nil {
				base[lang] = map[string]string{}
			}
			for k, v := range msgs {
				base[lang][k] = v
			}
		}
	}

	c.mu.Lock()
	c.messages = base
	c.mu.Unlock()
	slog.Debug("Catalog.Reload: messages loaded", "languages", len(base), "override", c.overridePath != "")
	return nil
}

// Lookup returns the text for key in lang, falling back to Russian and then to the key itself.
func (c *Catalog) Lookup(lang models.Language, key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if msg, ok := c.messages[lang][key]; ok {
		return msg
	}
	if msg, ok := c.messages[models.LanguageRU][key]; ok {
		return msg
	}
	slog.Warn("Catalog.Lookup: missing message", "lang", lang, "key", key)
	return key
}

func parse(data []byte) (table, error) {
	raw := map[string]map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(table, len(raw))
	for lang, msgs := range raw {
		l := models.Language(lang)
		if !l.IsValid() {
			return nil, fmt.Errorf("unsupported language %q", lang)
		}
		out[l] = msgs
	}
	return out, nil
}
