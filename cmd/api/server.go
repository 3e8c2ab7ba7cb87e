package main

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/poolfund/pkg/contributions"
	"github.com/mcclellann/poolfund/pkg/finance"
	"github.com/mcclellann/poolfund/pkg/ledger"
	"github.com/mcclellann/poolfund/pkg/members"
	"github.com/mcclellann/poolfund/pkg/notify"
	"github.com/mcclellann/poolfund/pkg/ratelimit"
	"github.com/mcclellann/poolfund/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Settings carries what the server needs beyond storage.
type Settings struct {
	JWTSecret          []byte
	Logger             *zap.Logger
	Notifier           notify.Notifier
	Limiter            *ratelimit.Limiter // nil disables rate limiting
	Clock              func() time.Time
	MaxRetries         int
	DefaultRate        decimal.Decimal
	ContributionAmount decimal.Decimal
	BcryptCost         int
}

// Server holds the services behind the HTTP API.
type Server struct {
	ledger        *ledger.Ledger
	contributions *contributions.Ledger
	finances      *finance.Aggregator
	interest      *finance.InterestRegister
	members       *members.Directory
	storage       store.Storage // kept to close it on shutdown
	logger        *zap.Logger
	limiter       *ratelimit.Limiter
	jwtKey        []byte
	now           func() time.Time
	monthlyAmount decimal.Decimal
}

func NewServer(s store.Storage, cfg Settings) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Nop{}
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}

	contribs := contributions.NewLedger(s,
		contributions.WithClock(cfg.Clock),
		contributions.WithLogger(cfg.Logger.Named("contributions")),
		contributions.WithMaxRetries(cfg.MaxRetries))

	ledgerOpts := []ledger.Option{
		ledger.WithClock(cfg.Clock),
		ledger.WithLogger(cfg.Logger.Named("ledger")),
		ledger.WithNotifier(cfg.Notifier),
		ledger.WithSavings(contribs),
		ledger.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.DefaultRate.IsPositive() {
		ledgerOpts = append(ledgerOpts, ledger.WithDefaultInterestRate(cfg.DefaultRate))
	}

	return &Server{
		ledger:        ledger.NewLedger(s, ledgerOpts...),
		contributions: contribs,
		finances: finance.NewAggregator(s,
			finance.WithClock(cfg.Clock),
			finance.WithLogger(cfg.Logger.Named("finance"))),
		interest:      finance.NewInterestRegister(s, cfg.Logger.Named("interest"), cfg.Clock),
		members:       members.NewDirectory(s, cfg.Logger.Named("members"), cfg.BcryptCost),
		storage:       s,
		logger:        cfg.Logger,
		limiter:       cfg.Limiter,
		jwtKey:        cfg.JWTSecret,
		now:           cfg.Clock,
		monthlyAmount: cfg.ContributionAmount,
	}
}

// Router wires every route. Everything except /health needs a bearer token.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(s.logRequests)
	if s.limiter != nil {
		router.Use(s.limiter.Middleware)
	}

	router.HandleFunc("/health", s.healthHandler).Methods("GET")

	api := router.NewRoute().Subrouter()
	api.Use(s.authenticate)

	api.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	api.HandleFunc("/loans", s.requestLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	api.HandleFunc("/loans/{id}", s.deleteLoanHandler).Methods("DELETE")
	api.HandleFunc("/loans/{id}/decision", s.adminOnly(s.decideLoanHandler)).Methods("POST")
	api.HandleFunc("/loans/{id}/disburse", s.adminOnly(s.disburseLoanHandler)).Methods("POST")
	api.HandleFunc("/loans/{id}/repayments", s.listRepaymentsHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/repayments", s.adminOnly(s.recordRepaymentHandler)).Methods("POST")
	api.HandleFunc("/admin/interest/recalculate", s.adminOnly(s.recalculateHandler)).Methods("POST")

	api.HandleFunc("/contributions", s.listContributionsHandler).Methods("GET")
	api.HandleFunc("/contributions", s.adminOnly(s.createContributionHandler)).Methods("POST")
	api.HandleFunc("/contributions", s.adminOnly(s.upsertContributionHandler)).Methods("PUT")
	api.HandleFunc("/contributions/batch", s.adminOnly(s.batchContributionsHandler)).Methods("POST")
	api.HandleFunc("/contributions/{id}/self-report", s.selfReportHandler).Methods("POST")
	api.HandleFunc("/contributions/{id}/confirm", s.adminOnly(s.confirmContributionHandler)).Methods("POST")

	api.HandleFunc("/members", s.listMembersHandler).Methods("GET")
	api.HandleFunc("/members", s.adminOnly(s.registerMemberHandler)).Methods("POST")
	api.HandleFunc("/members/{id}/savings", s.memberSavingsHandler).Methods("GET")

	api.HandleFunc("/historical-interest", s.adminOnly(s.listInterestHandler)).Methods("GET")
	api.HandleFunc("/historical-interest", s.adminOnly(s.createInterestHandler)).Methods("POST")
	api.HandleFunc("/historical-interest/{id}", s.adminOnly(s.getInterestHandler)).Methods("GET")
	api.HandleFunc("/historical-interest/{id}", s.adminOnly(s.updateInterestHandler)).Methods("PUT")
	api.HandleFunc("/historical-interest/{id}", s.adminOnly(s.deleteInterestHandler)).Methods("DELETE")

	api.HandleFunc("/finances", s.financesHandler).Methods("GET")

	return router
}
