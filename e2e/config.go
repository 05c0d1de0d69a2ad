package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// INBOX_URL points at a running server. The suites skip when it is empty.
	BaseURL   string `envconfig:"INBOX_URL"`
	JWTSecret string `envconfig:"JWT_SECRET"`
	// E2E_DEBUG_JSON dumps full response bodies in the test log
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
	// Users and listing that must already exist in the directory.
	BuyerID    string `envconfig:"E2E_BUYER_ID" default:"e2e-buyer"`
	SellerID   string `envconfig:"E2E_SELLER_ID" default:"e2e-seller"`
	PropertyID string `envconfig:"E2E_PROPERTY_ID" default:"e2e-property"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
