package service

import (
	"context"
	"net"
)

func (s *Service) ServeListener(ctx context.Context, ln net.Listener) error {
	return s.serve(ctx, ln)
}
