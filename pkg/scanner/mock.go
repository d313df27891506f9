package scanner

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/aquasecurity/vuln-reconcile/pkg/types"
)

type MockRunner struct {
	mock.Mock
}

func (_m *MockRunner) Run(ctx context.Context, kind types.ScannerKind, image string) ([]byte, error) {
	ret := _m.Called(ctx, kind, image)
	ret0 := ret.Get(0)
	if ret0 == nil {
		return nil, ret.Error(1)
	}
	b, ok := ret0.([]byte)
	if !ok {
		return nil, ret.Error(1)
	}
	return b, ret.Error(1)
}
