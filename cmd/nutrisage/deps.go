package main

import (
	"context"
	"time"

	"nutrisage/internal/modkit"
	"nutrisage/internal/platform/blob"
	"nutrisage/internal/platform/config"
	"nutrisage/internal/platform/logger"
	"nutrisage/internal/platform/store"
)

// storeConfig reads the optional ledger and catalog settings; an empty URL leaves the backend off
func storeConfig(root config.Conf) store.Config {
	pg := root.Prefix("PG_")
	ch := root.Prefix("CH_")
	return store.Config{
		AppName: "nutrisage",
		PG: store.PGConfig{
			Enabled:        pg.Has("URL"),
			URL:            pg.MayString("URL", ""),
			MaxConns:       int32(pg.MayInt("MAX_CONNS", 4)),
			SlowQueryMs:    pg.MayInt("SLOW_MS", 500),
			LogSQL:         pg.MayBool("LOG_SQL", false),
			ConnectRetries: pg.MayInt("CONNECT_RETRIES", 5),
			PingTimeout:    pg.MayDuration("PING_TIMEOUT", 3*time.Second),
		},
		CH: store.CHConfig{
			Enabled: ch.Has("URL"),
			URL:     ch.MayString("URL", ""),
		},
	}
}

// blobOptions reads storage credentials shared by both commands
func blobOptions(root config.Conf) blob.Options {
	return blob.Options{
		Profile:  root.MayString("PROFILE", ""),
		Endpoint: root.MayString("S3_ENDPOINT", ""),
		Region:   root.MayString("S3_REGION", ""),
	}
}

// openDeps opens the configured backends; the returned closer is always safe to call
func openDeps(ctx context.Context, cfg config.Conf, bo blob.Options) (modkit.Deps, func(), error) {
	l := logger.Named("cli")
	st, err := store.Open(ctx, storeConfig(cfg.Prefix("NUTRISAGE_")), store.WithLogger(*l))
	if err != nil {
		return modkit.Deps{}, func() {}, err
	}
	deps := modkit.Deps{Log: l, Cfg: cfg, PG: st.PG, CH: st.CH, Blob: bo}
	closer := func() {
		if err := st.Close(context.Background()); err != nil {
			l.Warn().Err(err).Msg("store close failed")
		}
	}
	return deps, closer, nil
}
