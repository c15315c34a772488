package credential

import (
	"encoding/json"
	"os"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/zalando/go-keyring"

	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/mesherror"
)

// DefaultService is the keyring service name profiles are stored under.
const DefaultService = "ToolMesh"

// profileIndexSuffix names the per-provider keyring entry holding the list
// of saved profile names.
const profileIndexSuffix = "/__profiles"

// wellKnownEnv maps provider names to their conventional environment
// variable. Providers not listed fall back to <PROVIDER>_API_KEY.
var wellKnownEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
}

// Keyring is the subset of the OS keyring the resolver needs. The system
// keyring is the default; tests substitute an in-memory one.
type Keyring interface {
	Get(service, user string) (string, error)
	Set(service, user, secret string) error
	Delete(service, user string) error
}

type systemKeyring struct{}

func (systemKeyring) Get(service, user string) (string, error) {
	return keyring.Get(service, user)
}

func (systemKeyring) Set(service, user, secret string) error {
	return keyring.Set(service, user, secret)
}

func (systemKeyring) Delete(service, user string) error {
	return keyring.Delete(service, user)
}

// Options configures a Resolver.
type Options struct {
	// Service is the keyring service namespace.
	Service string
	// Keyring backs saved profiles. Defaults to the OS keyring.
	Keyring Keyring
	// LookupEnv resolves a single environment variable. Defaults to
	// os.LookupEnv.
	LookupEnv func(key string) (string, bool)
	// Environ lists the environment for the heuristic scan. Defaults to
	// os.Environ.
	Environ func() []string
	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Resolver resolves API keys for named providers. Safe for concurrent use.
type Resolver struct {
	service   string
	keyring   Keyring
	lookupEnv func(string) (string, bool)
	environ   func() []string
	logger    logging.Logger

	mu     sync.RWMutex
	active map[string]string // provider -> active profile name
}

// NewResolver constructs a Resolver.
func NewResolver(optFns ...func(o *Options)) *Resolver {
	opts := Options{
		Service:   DefaultService,
		Keyring:   systemKeyring{},
		LookupEnv: os.LookupEnv,
		Environ:   os.Environ,
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Keyring == nil {
		opts.Keyring = systemKeyring{}
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	if opts.Environ == nil {
		opts.Environ = os.Environ
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Resolver{
		service:   opts.Service,
		keyring:   opts.Keyring,
		lookupEnv: opts.LookupEnv,
		environ:   opts.Environ,
		logger:    opts.Logger,
		active:    make(map[string]string),
	}
}

// Resolve returns the API key for the provider, walking the precedence
// chain: active profile, well-known env var, any saved profile, heuristic
// env scan. A miss at every step returns ("", false); Resolve never
// returns an error. Keyring unavailability degrades to the env-only chain.
func (r *Resolver) Resolve(provider string) (string, bool) {
	provider = strings.ToLower(provider)

	r.mu.RLock()
	activeProfile := r.active[provider]
	r.mu.RUnlock()

	if activeProfile != "" {
		if key, err := r.keyring.Get(r.service, profileAccount(provider, activeProfile)); err == nil && key != "" {
			return key, true
		} else if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			r.logger.Warn("credential.keyring_unavailable", "provider", provider, "error", err.Error())
		}
	}

	if key, ok := r.lookupEnv(envVarFor(provider)); ok && key != "" {
		return key, true
	}

	for _, name := range r.profileNames(provider) {
		if key, err := r.keyring.Get(r.service, profileAccount(provider, name)); err == nil && key != "" {
			return key, true
		}
	}

	if key, ok := r.scanEnv(provider); ok {
		return key, true
	}

	return "", false
}

// UseProfile marks a saved profile as the preferred source for the
// provider. It does not verify the profile exists; a dangling name simply
// falls through the chain at resolve time.
func (r *Resolver) UseProfile(provider, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.active[strings.ToLower(provider)] = name
}

// SaveProfile stores a named key for the provider in the keyring and
// records it in the provider's profile index.
func (r *Resolver) SaveProfile(provider, name, key string) error {
	provider = strings.ToLower(provider)
	if name == "" || key == "" {
		return mesherror.New(mesherror.KindStorage, "profile name and key must be non-empty")
	}

	if err := r.keyring.Set(r.service, profileAccount(provider, name), key); err != nil {
		return mesherror.Wrap(err, mesherror.KindStorage, "saving credential profile")
	}

	names := r.profileNames(provider)
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	names = append(names, name)

	return r.saveProfileNames(provider, names)
}

// DeleteProfile removes a saved profile and its index entry. Deleting a
// profile that does not exist is a no-op.
func (r *Resolver) DeleteProfile(provider, name string) error {
	provider = strings.ToLower(provider)

	if err := r.keyring.Delete(r.service, profileAccount(provider, name)); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return mesherror.Wrap(err, mesherror.KindStorage, "deleting credential profile")
	}

	names := r.profileNames(provider)
	kept := names[:0]
	for _, n := range names {
		if n != name {
			kept = append(kept, n)
		}
	}

	r.mu.Lock()
	if r.active[provider] == name {
		delete(r.active, provider)
	}
	r.mu.Unlock()

	return r.saveProfileNames(provider, kept)
}

// Profiles lists the saved profile names for the provider.
func (r *Resolver) Profiles(provider string) []string {
	return r.profileNames(strings.ToLower(provider))
}

func (r *Resolver) profileNames(provider string) []string {
	raw, err := r.keyring.Get(r.service, provider+profileIndexSuffix)
	if err != nil {
		if !errors.Is(err, keyring.ErrNotFound) {
			r.logger.Warn("credential.keyring_unavailable", "provider", provider, "error", err.Error())
		}
		return nil
	}

	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		r.logger.Warn("credential.profile_index_corrupt", "provider", provider, "error", err.Error())
		return nil
	}
	return names
}

func (r *Resolver) saveProfileNames(provider string, names []string) error {
	raw, err := json.Marshal(names)
	if err != nil {
		return mesherror.Wrap(err, mesherror.KindStorage, "encoding profile index")
	}

	if err := r.keyring.Set(r.service, provider+profileIndexSuffix, string(raw)); err != nil {
		return mesherror.Wrap(err, mesherror.KindStorage, "saving profile index")
	}
	return nil
}

// scanEnv is the last-resort heuristic: any environment variable named
// <PROVIDER>_*_KEY (or exactly <PROVIDER>_KEY) with a non-empty value.
func (r *Resolver) scanEnv(provider string) (string, bool) {
	prefix := strings.ToUpper(provider) + "_"

	for _, entry := range r.environ() {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			continue
		}
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, "_KEY") {
			r.logger.Debug("credential.env_scan_hit", "provider", provider, "var", name)
			return value, true
		}
	}

	return "", false
}

func profileAccount(provider, name string) string {
	return provider + "/" + name
}

func envVarFor(provider string) string {
	if v, ok := wellKnownEnv[provider]; ok {
		return v
	}
	return strings.ToUpper(provider) + "_API_KEY"
}

// ErrMissing builds the error a caller raises when resolution came up
// empty and the key is actually required.
func ErrMissing(provider string) error {
	return mesherror.Newf(mesherror.KindCredentialMissing, "no credential resolved for provider %q", provider)
}
