package cmd

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/slmcmahon/UpdateManager/config"
	"github.com/slmcmahon/UpdateManager/fetch"
	"github.com/slmcmahon/UpdateManager/updates"
)

// configureManager points the shared manager at the configured sources.
func configureManager(cfg config.Config) (*updates.Manager, error) {
	m := updates.SharedManager()

	httpFetcher := fetch.NewHTTPFetcher()
	httpFetcher.Timeout = cfg.HTTPTimeout()
	httpFetcher.MaxRetries = cfg.HTTPRetries()
	httpFetcher.UserAgent = cfg.UserAgent()

	mux := fetch.NewMux()
	mux.Handle("http", httpFetcher)
	mux.Handle("https", httpFetcher)
	m.SetFetcher(mux)

	if err := m.SetPListURL(cfg.Sources().PListURL()); err != nil {
		return nil, err
	}
	if err := m.SetVersionURL(cfg.Sources().VersionURL()); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"config":      cfg.ConfigPath(),
		"plist_url":   m.PListURL(),
		"version_url": m.VersionURL(),
	}).Debug("update manager configured")
	return m, nil
}

// writeMetrics dumps the manager's counters for a node_exporter textfile collector.
func writeMetrics(path string, m *updates.Manager) error {
	if path == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
