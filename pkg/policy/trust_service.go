package policy

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/openfroyo/provengine/pkg/trust"
	"github.com/rs/zerolog"
)

// ErrNoDecision is returned when the policies produce no decision document.
var ErrNoDecision = errors.New("policy produced no trust decision")

// TrustService makes non-interactive trust decisions by evaluating Rego
// policies. It implements trust.Service.
type TrustService struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	store    storage.Store
	query    rego.PreparedEvalQuery
	logger   zerolog.Logger
	now      func() time.Time
}

// NewTrustService creates a service with the built-in policy. config is
// exposed to policies as data.provengine.config; the built-in policy reads
// allow_unsigned, trusted_fingerprints, trusted_subjects and persist.
func NewTrustService(logger zerolog.Logger, config map[string]interface{}) (*TrustService, error) {
	if config == nil {
		config = map[string]interface{}{}
	}
	data, err := normalize(map[string]interface{}{
		"provengine": map[string]interface{}{"config": config},
	})
	if err != nil {
		return nil, fmt.Errorf("invalid policy data: %w", err)
	}

	s := &TrustService{
		policies: make(map[string]*Policy),
		store:    inmem.NewFromObject(data),
		logger:   logger.With().Str("component", "trust-policy").Logger(),
		now:      time.Now,
	}
	for _, p := range GetBuiltinPolicies() {
		s.policies[p.Name] = &p
	}
	if err := s.prepare(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return s, nil
}

// normalize round-trips v through JSON so the in-memory store only holds
// JSON types.
func normalize(v map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadPolicies loads .rego files from paths. A loaded policy replaces any
// policy of the same name, so a file named trust-default.rego overrides the
// built-in policy.
func (s *TrustService) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewSource(s.logger, paths...).Collect(ctx)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return s.replace(ctx, policies)
}

func (s *TrustService) replace(ctx context.Context, policies []Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.policies
	next := make(map[string]*Policy, len(previous)+len(policies))
	for name, p := range previous {
		next[name] = p
	}
	for i := range policies {
		next[policies[i].Name] = &policies[i]
	}

	s.policies = next
	if err := s.prepareLocked(ctx); err != nil {
		s.policies = previous
		return err
	}

	s.logger.Info().
		Int("count", len(policies)).
		Msg("Trust policies loaded")
	return nil
}

// Watch reloads policies from paths whenever a .rego file changes, until
// ctx is done.
func (s *TrustService) Watch(ctx context.Context, paths []string) error {
	return NewSource(s.logger, paths...).Watch(ctx, func(policies []Policy) error {
		return s.replace(ctx, policies)
	})
}

func (s *TrustService) prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepareLocked(ctx)
}

func (s *TrustService) prepareLocked(ctx context.Context) error {
	names := make([]string, 0, len(s.policies))
	for name, p := range s.policies {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	opts := []func(*rego.Rego){
		rego.Query(DecisionQuery),
		rego.Store(s.store),
	}
	for _, name := range names {
		p := s.policies[name]
		if _, err := ast.ParseModule(name, p.Rego); err != nil {
			return fmt.Errorf("failed to parse policy %s: %w", name, err)
		}
		opts = append(opts, rego.Module(name+".rego", p.Rego))
	}

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}
	s.query = query

	s.logger.Debug().
		Strs("policies", names).
		Msg("Trust policies compiled")
	return nil
}

// Policies returns the loaded policies sorted by name.
func (s *TrustService) Policies() []Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Policy, 0, len(s.policies))
	for _, p := range s.policies {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Evaluate runs the decision query against input.
func (s *TrustService) Evaluate(ctx context.Context, input *TrustInput) (*Decision, error) {
	s.mu.RLock()
	query := s.query
	s.mu.RUnlock()

	startTime := time.Now()
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, ErrNoDecision
	}

	raw, err := json.Marshal(results[0].Expressions[0].Value)
	if err != nil {
		return nil, fmt.Errorf("invalid decision document: %w", err)
	}
	var decision Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return nil, fmt.Errorf("invalid decision document: %w", err)
	}
	sort.Strings(decision.Trusted)
	sort.Strings(decision.Reasons)

	s.logger.Debug().
		Int("chains", len(input.Chains)).
		Int("unsigned", len(input.Unsigned)).
		Int("trusted", len(decision.Trusted)).
		Bool("trust_unsigned", decision.TrustUnsigned).
		Dur("duration", time.Since(startTime)).
		Msg("Trust policy evaluated")
	return &decision, nil
}

// TrustInfo implements trust.Service.
func (s *TrustService) TrustInfo(ctx context.Context, chains [][]*x509.Certificate, unsigned []string) (trust.TrustInfo, error) {
	input := &TrustInput{
		Chains:    make([][]Certificate, 0, len(chains)),
		Unsigned:  append([]string{}, unsigned...),
		Timestamp: s.now().UTC(),
	}
	leaves := make(map[string]*x509.Certificate, len(chains))
	for _, chain := range chains {
		if len(chain) == 0 {
			continue
		}
		converted := make([]Certificate, 0, len(chain))
		for _, cert := range chain {
			converted = append(converted, NewCertificate(cert))
		}
		input.Chains = append(input.Chains, converted)
		leaves[converted[0].Fingerprint] = chain[0]
	}

	decision, err := s.Evaluate(ctx, input)
	if err != nil {
		return trust.TrustInfo{}, err
	}
	if len(decision.Reasons) > 0 {
		s.logger.Info().Str("reasons", strings.Join(decision.Reasons, "; ")).Msg("Trust policy withheld trust")
	}

	info := trust.TrustInfo{
		TrustUnsigned: decision.TrustUnsigned,
		PersistTrust:  decision.Persist,
	}
	for _, fp := range decision.Trusted {
		if cert, ok := leaves[strings.ToLower(fp)]; ok {
			info.TrustedCertificates = append(info.TrustedCertificates, cert)
		}
	}
	return info, nil
}
