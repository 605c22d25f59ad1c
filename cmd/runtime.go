// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"errors"

	"moodtap/internal/analysis"
	"moodtap/internal/cache"
	"moodtap/internal/config"
	applog "moodtap/internal/log"
	"moodtap/internal/pool"
	"moodtap/internal/session"
	"moodtap/internal/transport"
	"moodtap/internal/transport/udp"
)

// runtime holds the long-lived components a command runs with.
type runtime struct {
	pool      *pool.Pool
	analyzer  *analysis.SpectralAnalyzer
	cache     cache.Store
	transport transport.Transport
	session   *session.Session
	closers   []func() error
}

// newRuntime builds every component cfg describes. The pool's cleanup loop
// runs until ctx is done or Close is called.
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{}
	if err := rt.init(ctx, cfg); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *runtime) init(ctx context.Context, cfg *config.Config) error {
	var err error
	if rt.pool, err = pool.New(cfg.PoolConfig()); err != nil {
		return err
	}
	cleanupCtx, stopCleanup := context.WithCancel(ctx)
	go rt.pool.Run(cleanupCtx)
	rt.closers = append(rt.closers, func() error {
		stopCleanup()
		return nil
	})

	ac, err := cfg.AnalyzerConfig()
	if err != nil {
		return err
	}
	if rt.analyzer, err = analysis.NewSpectralAnalyzer(ac); err != nil {
		return err
	}

	if rt.cache, err = cache.Open(cfg.CacheOptions()); err != nil {
		return err
	}
	if rt.cache != nil {
		rt.closers = append(rt.closers, rt.cache.Close)
	}

	if rt.transport, err = newTransport(cfg); err != nil {
		return err
	}
	if rt.transport != nil {
		rt.closers = append(rt.closers, rt.transport.Close)
	}

	rt.session, err = session.New(cfg.SessionConfig(), session.Deps{
		Pool:      rt.pool,
		Analyzer:  rt.analyzer,
		Cache:     rt.cache,
		Transport: rt.transport,
	})
	return err
}

// newTransport combines the enabled transports. It returns nil when none is.
func newTransport(cfg *config.Config) (transport.Transport, error) {
	var out transport.Multi
	fail := func(err error) (transport.Transport, error) {
		if cerr := out.Close(); cerr != nil {
			applog.Warnf("Runtime: closing transports: %v", cerr)
		}
		return nil, err
	}

	if cfg.Transport.Logging {
		out = append(out, transport.NewLoggingTransport())
	}
	if cfg.Transport.WebSocketAddr != "" {
		ws, err := transport.NewWebSocketTransport(cfg.Transport.WebSocketAddr)
		if err != nil {
			return fail(err)
		}
		applog.Infof("Runtime: WebSocket clients can connect to ws://%s/ws", ws.Addr())
		out = append(out, ws)
	}
	if cfg.Transport.UDPEnabled {
		sender, err := udp.NewUDPSender(cfg.Transport.UDPTargetAddress)
		if err != nil {
			return fail(err)
		}
		pub, err := udp.NewUDPPublisher(cfg.Transport.UDPSendInterval, sender)
		if err != nil {
			sender.Close()
			return fail(err)
		}
		pub.Start()
		out = append(out, pub)
	}

	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	default:
		return out, nil
	}
}

// Close releases components in reverse order of creation.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i]())
	}
	rt.closers = nil
	if rt.pool != nil {
		rt.pool.DrainAll()
	}
	return errors.Join(errs...)
}
