package deployment

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/mock"
)

// MockFactory is a mock implementation of Factory.
type MockFactory struct {
	mock.Mock
}

func (m *MockFactory) Resolve(ctx context.Context, artifactName string) (Binding, error) {
	args := m.Called(ctx, artifactName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(Binding), args.Error(1)
}

// MockBinding is a mock implementation of Binding.
type MockBinding struct {
	mock.Mock
}

func (m *MockBinding) Deploy(ctx context.Context, rewardRate, withdrawalPeriod uint64, vault, token common.Address) (PendingDeployment, error) {
	args := m.Called(ctx, rewardRate, withdrawalPeriod, vault, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(PendingDeployment), args.Error(1)
}

// MockPending is a mock implementation of PendingDeployment.
type MockPending struct {
	mock.Mock
}

func (m *MockPending) TxHash() common.Hash {
	args := m.Called()
	return args.Get(0).(common.Hash)
}

func (m *MockPending) AwaitConfirmation(ctx context.Context) (*Confirmation, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Confirmation), args.Error(1)
}

// stubFactory always confirms, handing out a fresh address per deployment.
type stubFactory struct {
	deploys int
	fixed   *common.Address
}

func (f *stubFactory) Resolve(ctx context.Context, artifactName string) (Binding, error) {
	return f, nil
}

func (f *stubFactory) Deploy(ctx context.Context, rewardRate, withdrawalPeriod uint64, vault, token common.Address) (PendingDeployment, error) {
	f.deploys++
	addr := common.BigToAddress(common.Big1)
	addr[0] = byte(f.deploys)
	if f.fixed != nil {
		addr = *f.fixed
	}
	return &stubPending{
		hash: common.BytesToHash([]byte{byte(f.deploys)}),
		addr: addr,
	}, nil
}

type stubPending struct {
	hash  common.Hash
	addr  common.Address
	waits int
}

func (p *stubPending) TxHash() common.Hash {
	return p.hash
}

func (p *stubPending) AwaitConfirmation(ctx context.Context) (*Confirmation, error) {
	p.waits++
	return &Confirmation{Address: p.addr, TxHash: p.hash, BlockNumber: 7, GasUsed: 21000}, nil
}

// Verify mocks implement the interfaces.
var (
	_ Factory           = (*MockFactory)(nil)
	_ Binding           = (*MockBinding)(nil)
	_ PendingDeployment = (*MockPending)(nil)
	_ Factory           = (*stubFactory)(nil)
	_ Binding           = (*stubFactory)(nil)
)
