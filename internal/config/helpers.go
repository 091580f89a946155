package config

import (
	"fmt"
	"path/filepath"

	"arena-api/pkg/broker"
	"arena-api/pkg/llm"
	"arena-api/pkg/market"
)

// MustLoadLLM loads etc/llm.yaml from the project root and panics on error.
func MustLoadLLM() *llm.Config {
	path := filepath.Join(MustProjectRoot(), "etc", "llm.yaml")
	cfg, err := llm.LoadConfig(path)
	if err != nil {
		panic(fmt.Errorf("load llm config %s: %w", path, err))
	}
	return cfg
}

// MustLoadMarket loads etc/market.yaml from the project root and panics
// on error. It isolates the market section so tests that only need a
// provider skip the rest of the app config.
func MustLoadMarket() *market.Config {
	path := filepath.Join(MustProjectRoot(), "etc", "market.yaml")
	cfg, err := market.LoadConfig(path)
	if err != nil {
		panic(fmt.Errorf("load market config %s: %w", path, err))
	}
	return cfg
}

// MustLoadBroker loads etc/broker.yaml from the project root and panics
// on error.
func MustLoadBroker() *broker.Config {
	path := filepath.Join(MustProjectRoot(), "etc", "broker.yaml")
	cfg, err := broker.LoadConfig(path)
	if err != nil {
		panic(fmt.Errorf("load broker config %s: %w", path, err))
	}
	return cfg
}
