//go:build wireinject

package app

import (
	"github.com/google/wire"

	"github.com/strct-org/strct-hosts/internal/agent"
	"github.com/strct-org/strct-hosts/internal/config"
	"github.com/strct-org/strct-hosts/internal/features/adblocker"
	"github.com/strct-org/strct-hosts/internal/ota"
)

// InitializeAgent builds the long-running daemon used by `serve`.
func InitializeAgent(cfg *config.Config) (*agent.Agent, func(), error) {
	wire.Build(ServeSet)
	return nil, nil, nil
}

// InitializeAdBlocker builds the components used by one-shot commands.
func InitializeAdBlocker(cfg *config.Config) (*adblocker.AdBlocker, func(), error) {
	wire.Build(CoreSet)
	return nil, nil, nil
}

// InitializeUpdater builds the updater used by `self-update`.
func InitializeUpdater(cfg *config.Config) *ota.Updater {
	wire.Build(ProvideUpdater)
	return nil
}
