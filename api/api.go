// Package api serves staking state and staking actions over HTTP.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	staking_rewards "staking-rewards/solana"
	"staking-rewards/storage"
)

const defaultHistoryLimit = 20

// Profiles is the signing key store the API resolves profile names with.
type Profiles interface {
	Profiles() ([]*storage.Profile, error)
	GetProfile(name string) (*storage.Profile, error)
	CreateProfile(name string) (*storage.Profile, error)
}

type Option func(*Server)

// WithMetrics exposes gatherer on /metrics.
func WithMetrics(gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = gatherer
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

type Server struct {
	backend   staking_rewards.Backend
	programID solana.PublicKey
	mint      solana.PublicKey
	profiles  Profiles
	gatherer  prometheus.Gatherer
	log       zerolog.Logger
}

func New(backend staking_rewards.Backend, programID, mint solana.PublicKey, profiles Profiles, opts ...Option) *Server {
	s := &Server{
		backend:   backend,
		programID: programID,
		mint:      mint,
		profiles:  profiles,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the router with every endpoint mounted.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	sub := router.PathPrefix("/api").Subrouter()

	sub.Path("/profiles").Methods(http.MethodGet).HandlerFunc(wrap(s.log, s.handleGetProfiles))
	sub.Path("/profiles").Methods(http.MethodPost).HandlerFunc(wrap(s.log, s.handleCreateProfile))
	sub.Path("/balances/{address}").Methods(http.MethodGet).HandlerFunc(wrap(s.log, s.handleGetBalance))
	sub.Path("/status/{address}").Methods(http.MethodGet).HandlerFunc(wrap(s.log, s.handleGetStatus))
	sub.Path("/history/{address}").Methods(http.MethodGet).HandlerFunc(wrap(s.log, s.handleGetHistory))
	sub.Path("/stakers").Methods(http.MethodGet).HandlerFunc(wrap(s.log, s.handleGetStakers))
	sub.Path("/vault").Methods(http.MethodGet).HandlerFunc(wrap(s.log, s.handleGetVault))
	sub.Path("/stake").Methods(http.MethodPost).HandlerFunc(wrap(s.log, s.handleStake))
	sub.Path("/destake").Methods(http.MethodPost).HandlerFunc(wrap(s.log, s.handleDestake))

	if s.gatherer != nil {
		router.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return handlers.CompressHandler(router)
}

func (s *Server) readOnlyClient() *staking_rewards.Client {
	client := staking_rewards.NewReadOnlyClient(s.backend, s.programID, s.mint)
	client.Log = s.log
	return client
}

func (s *Server) clientFor(profileName string) (*staking_rewards.Client, error) {
	if profileName == "" {
		return nil, badRequest(errors.New("missing 'profile'"))
	}
	profile, err := s.profiles.GetProfile(profileName)
	if errors.Is(err, storage.ErrProfileNotFound) {
		return nil, badRequest(fmt.Errorf("profile '%s' not found", profileName))
	}
	if err != nil {
		return nil, err
	}
	client := staking_rewards.NewClient(s.backend, profile.PrivateKey, s.programID, s.mint)
	client.Log = s.log
	return client, nil
}

func addressVar(r *http.Request) (solana.PublicKey, error) {
	address, err := solana.PublicKeyFromBase58(mux.Vars(r)["address"])
	if err != nil {
		return solana.PublicKey{}, badRequest(fmt.Errorf("invalid address: %w", err))
	}
	return address, nil
}

type profileView struct {
	Name      string `json:"name"`
	PublicKey string `json:"publicKey"`
}

func (s *Server) handleGetProfiles(w http.ResponseWriter, r *http.Request) error {
	profiles, err := s.profiles.Profiles()
	if err != nil {
		return fmt.Errorf("failed to get profiles: %w", err)
	}
	views := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		views = append(views, profileView{Name: p.Name, PublicKey: p.PublicKey().String()})
	}
	return writeJSON(w, views)
}

type createProfileRequest struct {
	Profile string `json:"profile"`
}

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) error {
	var req createProfileRequest
	if err := parseJSON(r.Body, &req); err != nil {
		return badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	if req.Profile == "" {
		return badRequest(errors.New("missing 'profile'"))
	}
	profile, err := s.profiles.CreateProfile(req.Profile)
	if errors.Is(err, storage.ErrProfileExists) {
		return &httpError{cause: err, status: http.StatusConflict}
	}
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return writeJSONStatus(w, http.StatusCreated, profileView{Name: profile.Name, PublicKey: profile.PublicKey().String()})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) error {
	address, err := addressVar(r)
	if err != nil {
		return err
	}
	client := s.readOnlyClient()
	wallet, err := client.GetTokenBalance(r.Context(), address)
	if err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}
	escrow, err := client.EscrowBalance(r.Context(), address)
	if err != nil {
		return fmt.Errorf("failed to get escrow balance: %w", err)
	}
	return writeJSON(w, map[string]any{
		"address": address.String(),
		"wallet":  wallet,
		"escrow":  escrow,
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) error {
	address, err := addressVar(r)
	if err != nil {
		return err
	}
	status, err := s.readOnlyClient().GetStakeStatus(r.Context(), address)
	if err != nil {
		return fmt.Errorf("failed to get stake status: %w", err)
	}
	return writeJSON(w, status)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) error {
	address, err := addressVar(r)
	if err != nil {
		return err
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			return badRequest(fmt.Errorf("invalid limit %q", raw))
		}
	}
	history, err := s.readOnlyClient().GetHistory(r.Context(), address, limit)
	if err != nil {
		return fmt.Errorf("failed to get transaction history: %w", err)
	}
	return writeJSON(w, history)
}

func (s *Server) handleGetStakers(w http.ResponseWriter, r *http.Request) error {
	stakers, err := s.readOnlyClient().FetchAllStakeInfos(r.Context())
	if err != nil {
		return fmt.Errorf("failed to fetch stakers: %w", err)
	}
	total, err := staking_rewards.TotalStaked(stakers)
	if err != nil {
		return err
	}
	return writeJSON(w, map[string]any{
		"stakers":     stakers,
		"totalStaked": total,
	})
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) error {
	vault, _, err := staking_rewards.DeriveVaultAddress(s.programID)
	if err != nil {
		return err
	}
	balance, err := s.readOnlyClient().VaultBalance(r.Context())
	if err != nil {
		return fmt.Errorf("failed to get vault balance: %w", err)
	}
	return writeJSON(w, map[string]any{
		"address": vault.String(),
		"balance": balance,
	})
}

type stakeRequest struct {
	Profile string `json:"profile"`
	Amount  uint64 `json:"amount"`
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) error {
	var req stakeRequest
	if err := parseJSON(r.Body, &req); err != nil {
		return badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	client, err := s.clientFor(req.Profile)
	if err != nil {
		return err
	}
	sig, err := client.Stake(r.Context(), req.Amount)
	if err != nil {
		return programFailure(err)
	}
	return writeJSON(w, map[string]string{"transactionSignature": sig.String()})
}

type destakeRequest struct {
	Profile string `json:"profile"`
}

func (s *Server) handleDestake(w http.ResponseWriter, r *http.Request) error {
	var req destakeRequest
	if err := parseJSON(r.Body, &req); err != nil {
		return badRequest(fmt.Errorf("invalid request body: %w", err))
	}
	client, err := s.clientFor(req.Profile)
	if err != nil {
		return err
	}
	sig, err := client.Destake(r.Context())
	if err != nil {
		return programFailure(err)
	}
	return writeJSON(w, map[string]string{"transactionSignature": sig.String()})
}

// programFailure maps a rejected transaction onto a status by error kind.
func programFailure(err error) error {
	switch staking_rewards.KindOf(err) {
	case staking_rewards.KindValidation:
		return badRequest(err)
	case staking_rewards.KindInsufficientFunds:
		return &httpError{cause: err, status: http.StatusUnprocessableEntity}
	case staking_rewards.KindState:
		return &httpError{cause: err, status: http.StatusConflict}
	default:
		return err
	}
}
