// Package localnet assembles a ledger with the scope program deployed, and the
// mock oracle program when source records are simulated locally.
package localnet

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vuittont60/scope/internal/ledger"
	"github.com/vuittont60/scope/internal/mockoracle"
	"github.com/vuittont60/scope/internal/scope"
	"github.com/vuittont60/scope/internal/solana"
	"github.com/vuittont60/scope/internal/storage"
)

// Config describes the programs to deploy.
type Config struct {
	ScopeProgramID solana.Pubkey
	// Authority is recorded as the upgrade authority of the scope program.
	Authority solana.Pubkey

	EnableMockOracle bool
	MockProgramID    solana.Pubkey

	StoreName        string
	MaxRecentSlotAge uint64
	Logger           zerolog.Logger
}

// Localnet is a running ledger with its programs.
type Localnet struct {
	Bank  *ledger.Bank
	Scope *scope.Program
	Mock  *mockoracle.Program // nil unless enabled
}

// Start creates the bank over store and deploys the configured programs.
// Deploying onto a store that already holds the programs keeps their state.
func Start(ctx context.Context, store storage.AccountStore, clock ledger.Clock, cfg Config) (*Localnet, error) {
	if cfg.ScopeProgramID.IsZero() {
		return nil, fmt.Errorf("scope program id is required")
	}
	if cfg.Authority.IsZero() {
		return nil, fmt.Errorf("upgrade authority is required")
	}

	bank := ledger.NewBank(store, clock, ledger.Options{
		Logger:           cfg.Logger,
		MaxRecentSlotAge: cfg.MaxRecentSlotAge,
		StoreName:        cfg.StoreName,
	})

	net := &Localnet{
		Bank:  bank,
		Scope: scope.NewProgram(cfg.ScopeProgramID, scope.Options{Logger: cfg.Logger}),
	}
	authority := cfg.Authority
	if err := bank.Deploy(ctx, net.Scope, &authority); err != nil {
		return nil, err
	}

	if cfg.EnableMockOracle {
		if cfg.MockProgramID.IsZero() {
			return nil, fmt.Errorf("mock oracle program id is required when the mock oracle is enabled")
		}
		net.Mock = mockoracle.NewProgram(cfg.MockProgramID, cfg.Logger)
		if err := bank.Deploy(ctx, net.Mock, nil); err != nil {
			return nil, err
		}
	}
	return net, nil
}
