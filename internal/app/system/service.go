package system

import "context"

// Service represents a lifecycle-managed component. Background workers such
// as the refund keeper implement it so the manager can start and stop them
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService is a placeholder for components without a lifecycle.
type NoopService struct {
	ServiceName string
}

func (s NoopService) Name() string              { return s.ServiceName }
func (NoopService) Start(context.Context) error { return nil }
func (NoopService) Stop(context.Context) error  { return nil }
