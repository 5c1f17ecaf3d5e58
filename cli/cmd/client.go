package cmd

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/instantcocoa/evalbench/pkg/grpcutil"
)

var errNoSession = errors.New("no session: pass --session or set EVALBENCH_SESSION (create one with 'evalbench session new')")

// remote is a connection to the server bound to the configured session.
type remote struct {
	conn    *grpc.ClientConn
	session string
}

// connect dials the server. Commands that read or change session state pass
// needSession.
func connect(needSession bool) (*remote, error) {
	if needSession && cfg.Session == "" {
		return nil, errNoSession
	}
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return &remote{conn: conn, session: cfg.Session}, nil
}

func (r *remote) Close() error {
	return r.conn.Close()
}

// call invokes service/method within the session and the configured timeout.
func (r *remote) call(ctx context.Context, service, method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	ctx = grpcutil.WithSession(ctx, r.session)
	if err := grpcutil.Invoke(ctx, r.conn, service, method, req, resp); err != nil {
		// The server's message is what the user needs to see.
		if st, ok := status.FromError(err); ok {
			return errors.New(st.Message())
		}
		return err
	}
	return nil
}
