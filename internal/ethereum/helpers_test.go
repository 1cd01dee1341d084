package ethereum

import (
	"context"
	"crypto/ecdsa"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/stakepool-deployer/internal/artifact"
)

// simulatedChainID is the chain ID of the simulated backend's dev genesis.
const simulatedChainID = 1337

var (
	testVault = common.HexToAddress("0xf371efda1a6ebe7947b2e9c5417fd16c30612555")
	testToken = common.HexToAddress("0xA0290118D3014F6d9b6f2E9430EAeDe507C949C1")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testChain struct {
	sim    *simulated.Backend
	client simulated.Client
	key    *ecdsa.PrivateKey
	signer *LocalSigner
}

// newTestChain starts a simulated backend with one funded deployer account.
func newTestChain(t *testing.T) *testChain {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	funds := new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))
	sim := simulated.NewBackend(types.GenesisAlloc{
		addr: {Balance: funds},
	})
	t.Cleanup(func() { sim.Close() })

	return &testChain{
		sim:    sim,
		client: sim.Client(),
		key:    key,
		signer: NewLocalSignerFromKey(key, simulatedChainID),
	}
}

func (c *testChain) factory(cfg FactoryConfig) *Factory {
	return NewFactory(artifact.NewDirSource("testdata"), c.client, c.signer, cfg, testLogger())
}

// autoMine commits a block every interval until the test ends.
func (c *testChain) autoMine(t *testing.T, interval time.Duration) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sim.Commit()
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
}
