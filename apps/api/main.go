package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/account"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/invite"
	"github.com/trezcool/shule/core/otp"
	appfs "github.com/trezcool/shule/fs"
	emailsvc "github.com/trezcool/shule/services/email"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/services/ratelimit"
	storagesvc "github.com/trezcool/shule/services/storage"
	"github.com/trezcool/shule/storage/database"
	"github.com/trezcool/shule/storage/database/inmem"
	"github.com/trezcool/shule/storage/database/sqlboiler"
	"github.com/trezcool/shule/storage/database/sqlx"
)

const engineMemory = "memory"

type stores struct {
	tx       core.Transactor
	accounts account.Repository
	otps     otp.Repository
	invites  invite.Repository
	audits   audit.Repository
	db       *sql.DB // nil for the in-memory engine
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	server, closeApp, err := setUpApp(conf, logger, dbLogger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("initializing app: %v", err), err)
	}
	defer closeApp()

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("database.engine").Set(conf.Database.Engine)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// setUpApp wires every dependency of the API server. closeFn releases the DB and Redis connections.
func setUpApp(conf *core.Config, logger, dbLogger core.Logger) (server *echoapi.Server, closeFn func(), err error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	defer func() {
		if err != nil {
			closeAll()
		}
	}()

	if err = core.ParseEmailTemplates(appfs.FS, !conf.IsProduction()); err != nil {
		return nil, nil, errors.Wrap(err, "parsing email templates")
	}
	if err = account.LoadCommonPasswords(appfs.FS); err != nil {
		return nil, nil, errors.Wrap(err, "loading common passwords")
	}

	// set up DB
	st, err := setUpStores(conf)
	if err != nil {
		return nil, nil, errors.Wrap(err, "setting up database")
	}
	if st.db != nil {
		closers = append(closers, func() {
			if err := st.db.Close(); err != nil {
				dbLogger.Error("Failed to close", err)
			}
		})
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, log.New(os.Stdout, "MAIL : ", log.LstdFlags))
	} else {
		mailSvc = emailsvc.NewSendgridService(conf)
	}

	files, err := storagesvc.NewLocalStorage(conf.Storage.MediaRoot)
	if err != nil {
		return nil, nil, errors.Wrap(err, "setting up storage")
	}

	var limiter *ratelimit.Limiter
	if conf.Redis.URL != "" {
		var client *redis.Client
		client, err = ratelimit.NewClient(context.Background(), conf.Redis.URL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connecting to redis")
		}
		closers = append(closers, func() { _ = client.Close() })
		limiter = ratelimit.NewLimiter(client, conf.Redis.OTPAttempts, conf.Redis.OTPWindow)
	}

	validate, translator := core.NewValidator()
	sessions := echoapi.NewJWTSessions(conf)
	auditSvc := audit.NewService(st.audits, logger)
	ledger := invite.NewLedger(st.invites, auditSvc)
	accSvc := account.NewService(account.Deps{
		Conf:     conf,
		Tx:       st.tx,
		Repo:     st.accounts,
		Ledger:   ledger,
		OTP:      otp.NewIssuer(st.otps, conf.Auth.OTPTTL),
		MailSvc:  mailSvc,
		Files:    files,
		Audit:    auditSvc,
		Sessions: sessions,
		Logger:   logger,
		Validate: validate,
	})

	server = echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		AccountSvc: accSvc,
		Ledger:     ledger,
		AuditSvc:   auditSvc,
		Sessions:   sessions,
		Limiter:    limiter,
		Validate:   validate,
		Translator: translator,
	})
	return server, closeAll, nil
}

func setUpStores(conf *core.Config) (stores, error) {
	if conf.Database.Engine == engineMemory {
		db := inmemdb.Open()
		return stores{
			tx:       db,
			accounts: inmemdb.NewAccountRepository(db),
			otps:     inmemdb.NewOTPRepository(db),
			invites:  inmemdb.NewInviteRepository(db),
			audits:   inmemdb.NewAuditRepository(db),
		}, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return stores{}, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return stores{}, err
	}
	if err = database.Migrate(db); err != nil {
		_ = db.Close()
		return stores{}, err
	}
	return stores{
		tx:       database.NewTransactor(db),
		accounts: boiledrepos.NewAccountRepository(db),
		otps:     boiledrepos.NewOTPRepository(db),
		invites:  boiledrepos.NewInviteRepository(db),
		audits:   sqlxrepos.NewAuditRepository(db),
		db:       db,
	}, nil
}
