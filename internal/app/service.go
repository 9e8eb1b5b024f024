package app

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openhall/hiringhall/internal/engine"
	"github.com/openhall/hiringhall/internal/rules"
	"github.com/openhall/hiringhall/internal/store"
)

type Service struct {
	Config *Config
	Store  store.ReferralStore
	Auth   *Auth
	Engine *engine.Engine
	Tokens *TokenManager // nil when auth is disabled
}

func NewService(configPath string) (*Service, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	st, err := NewStore(config.Database.DSN, config.Database.MigrationsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to init store: %w", err)
	}

	auth, err := NewAuth(config)
	if err != nil {
		return nil, fmt.Errorf("failed to init auth: %w", err)
	}

	policy, err := rules.New(config.RuleParams())
	if err != nil {
		return nil, fmt.Errorf("failed to build rule policy: %w", err)
	}

	eng := engine.New(st, engine.NewStoreDirectory(st), policy)

	s := &Service{
		Config: config,
		Store:  st,
		Auth:   auth,
		Engine: eng,
	}
	if auth.Redis() != nil {
		s.Tokens = NewTokenManager(auth.Redis())
	}
	return s, nil
}

// MemberStats is one member's aggregated dispatch history on a book, the
// JSON shape the reporting layer consumes.
type MemberStats struct {
	Dispatches     int64   `json:"dispatches"`
	ShortCalls     int64   `json:"short_calls"`
	AvgJobSeconds  *int64  `json:"avg_job_seconds,omitempty"`
	LastTermReason *string `json:"last_term_reason,omitempty"`
	HumanDttms     *struct {
		FirstDispatch string `json:"first_dispatch"`
		AvgJobTime    string `json:"avg_job_time,omitempty"`
	} `json:"human_dttms,omitempty"`
}

// ValidateAuthAndMember checks the portal token for the member named in the
// request headers. A no-op when auth is disabled in config.
func (s *Service) ValidateAuthAndMember(r *http.Request, memberID string) error {
	if !s.Config.Server.EnableAuth {
		return nil
	}

	authHeader := r.Header.Get(s.Auth.tokenHeader)
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return fmt.Errorf("Invalid authorization header format")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")

	return s.Auth.ValidateToken(r.Context(), memberID, token)
}

func (s *Service) ValidateHeaders(headers map[string][]string) bool {
	for _, required := range s.Config.API.RequiredHeaders {
		value := headers[http.CanonicalHeaderKey(required.Name)]
		if len(value) == 0 || !strings.EqualFold(value[0], required.Value) {
			return false
		}
	}
	return true
}

// Actor names who performed a mutation for the audit trail, falling back to
// the dispatch-office identity when the header is absent.
func (s *Service) Actor(r *http.Request) string {
	if s.Config.API.ActorHeader == "" {
		return "dispatch-office"
	}
	if actor := r.Header.Get(s.Config.API.ActorHeader); actor != "" {
		return actor
	}
	return "dispatch-office"
}

// GetDispatchStats aggregates a book's dispatch history per member over the
// given window.
func (s *Service) GetDispatchStats(book string, since, until time.Time, includeHumanDttm bool) (map[string]*MemberStats, error) {
	results, err := s.Store.FetchDispatchStats(
		book,
		since,
		until,
		s.Config.Display.TimestampFormat,
		includeHumanDttm,
	)
	if err != nil {
		return nil, err
	}

	stats := make(map[string]*MemberStats)
	for _, r := range results {
		stat := &MemberStats{
			Dispatches:     r.Dispatches,
			ShortCalls:     r.ShortCalls,
			AvgJobSeconds:  r.AvgJobSeconds,
			LastTermReason: r.LastTermReason,
		}

		if includeHumanDttm && r.FirstDispatch != nil {
			stat.HumanDttms = &struct {
				FirstDispatch string `json:"first_dispatch"`
				AvgJobTime    string `json:"avg_job_time,omitempty"`
			}{
				FirstDispatch: *r.FirstDispatch,
			}

			if r.AvgJobSeconds != nil {
				duration := time.Duration(*r.AvgJobSeconds) * time.Second
				stat.HumanDttms.AvgJobTime = s.formatDuration(duration)
			}
		}

		stats[r.MemberID] = stat
	}

	return stats, nil
}

func (s *Service) formatDuration(d time.Duration) string {
	days := d / (24 * time.Hour)
	d = d % (24 * time.Hour)
	hours := d / time.Hour
	d = d % time.Hour
	minutes := d / time.Minute

	if days > 0 {
		return fmt.Sprintf("%dd%dh%dm", days, hours, minutes)
	}
	return fmt.Sprintf("%dh%dm", hours, minutes)
}

func (s *Service) Close() error {
	var errs []error

	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if err := s.Auth.Close(); err != nil {
		errs = append(errs, fmt.Errorf("auth: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors while closing: %v", errs)
	}
	return nil
}
