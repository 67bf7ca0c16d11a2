package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	fieldsync "github.com/fieldworks/fieldsync"
)

// runtime bundles the wired sync core for one CLI invocation.
type runtime struct {
	cfg     *Config
	store   *fieldsync.Store
	session *fieldsync.MemorySession
	client  *fieldsync.Client
	oracle  *fieldsync.ManualOracle
	manager *fieldsync.Manager
	engine  *fieldsync.Engine
}

// newRuntime wires store, session, gateway, manager and engine from the
// resolved configuration. CLI invocations assume the link is up; a gateway
// call that cannot reach the API still classifies as a network error.
func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, rt, err := loadRuntime(ctx)
	if err != nil {
		return nil, err
	}
	if rt.BaseURL == "" {
		return nil, fmt.Errorf("no API base URL configured; run 'fieldsync config set api.base_url <url>'")
	}

	store, err := fieldsync.OpenStore(rt.DataDir)
	if err != nil {
		return nil, err
	}

	session := fieldsync.NewMemorySession(cfg.Auth.AccessToken, cfg.Auth.RefreshToken)
	client := fieldsync.NewClient(rt.BaseURL, session)
	oracle := fieldsync.NewManualOracle(true)

	return &runtime{
		cfg:     cfg,
		store:   store,
		session: session,
		client:  client,
		oracle:  oracle,
		manager: fieldsync.NewManager(store, client, oracle),
		engine: fieldsync.NewEngine(store, client, oracle,
			fieldsync.WithRetryCeiling(rt.RetryCeiling),
			fieldsync.WithEngineLogger(logrus.StandardLogger())),
	}, nil
}

// close persists any refreshed credential pair back to the config file and
// closes the store.
func (r *runtime) close() {
	access, refresh := r.session.AccessToken(), r.session.RefreshToken()
	if access != r.cfg.Auth.AccessToken || refresh != r.cfg.Auth.RefreshToken {
		r.cfg.Auth.AccessToken = access
		r.cfg.Auth.RefreshToken = refresh
		if err := saveConfig(r.cfg); err != nil {
			logrus.WithError(err).Warn("could not persist refreshed credentials")
		}
	}
	r.store.Close()
}
