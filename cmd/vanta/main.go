// Command vanta is the vault's binary entrypoint: flag/env/config-file
// loading, logger bootstrap, eager envelope-corruption detection, and
// graceful shutdown — grounded on frnd1406-NasServer's src/main.go
// logrus-JSON-to-stdout bootstrap and signal-driven shutdown sequence.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/vanta-vault/vanta/internal/config"
	"github.com/vanta-vault/vanta/internal/handlers"
	"github.com/vanta-vault/vanta/internal/linkset"
	"github.com/vanta-vault/vanta/internal/manifest"
	"github.com/vanta-vault/vanta/internal/pipeline"
	"github.com/vanta-vault/vanta/internal/server"
	"github.com/vanta-vault/vanta/internal/store"
	"github.com/vanta-vault/vanta/internal/vault"
	"github.com/vanta-vault/vanta/internal/vaultcrypto"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.WithError(err).Error("loading configuration")
		return 1
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	st, err := store.New(cfg.VaultRoot)
	if err != nil {
		log.WithError(err).Error("creating or accessing vault root")
		return 1
	}

	// Eagerly validate the envelope at startup, before serving any
	// request: a corrupt envelope.bin should fail fast with a distinct
	// exit code rather than surface as a confusing 401 on first unlock.
	// Structural validation (length + magic) is password-independent and
	// runs here directly, rather than waiting for OpenEnvelope to be
	// reached via a later /api/unlock call.
	if st.EnvelopeExists() {
		envelope, err := st.ReadEnvelope()
		if err != nil {
			log.WithError(err).Error("envelope.bin exists but could not be read")
			return 2
		}
		if err := vaultcrypto.ValidateEnvelopeStructure(envelope); err != nil {
			log.WithError(err).Error("envelope.bin exists but is malformed")
			return 2
		}
	}

	params := vaultcrypto.Argon2Params{
		MemoryKiB:   cfg.Argon2MemoryKiB,
		Iterations:  cfg.Argon2Iters,
		Parallelism: cfg.Argon2Parallel,
	}

	mf := manifest.New(st)
	v := vault.New(st, mf, params)
	pool := pipeline.NewPool(cfg.WorkerPool)
	lm := linkset.New(mf, st, pool, cfg.MaxUploadBytes())
	h := handlers.New(v, lm, pool, st, cfg, log)
	srv := server.New(cfg, v, h, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("server exited with error")
		return 1
	}

	fmt.Fprintln(os.Stdout, "vanta: shut down cleanly")
	return 0
}
