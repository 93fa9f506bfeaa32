package middleware

import (
	"fmt"
	"net/http"
	"os"
	"sync"

	"admission-gateway/internal/service"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// APIKeyStore maps service API keys to the principal they authenticate as.
type APIKeyStore struct {
	mu   sync.RWMutex
	keys map[string]*APIKey
}

// APIKey represents an API key bound to a principal.
type APIKey struct {
	Key         string       `yaml:"key"`
	Name        string       `yaml:"name"`
	PrincipalID string       `yaml:"principal_id"`
	Role        service.Role `yaml:"role"`
	Enabled     bool         `yaml:"enabled"`
}

func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{
		keys: make(map[string]*APIKey),
	}
}

// LoadAPIKeys reads a YAML file of the form
//
//	keys:
//	  - key: k_123
//	    name: batch importer
//	    principal_id: svc-importer
//	    role: ADMIN
//	    enabled: true
func LoadAPIKeys(path string) (*APIKeyStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read api keys: %w", err)
	}
	var file struct {
		Keys []APIKey `yaml:"keys"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse api keys: %w", err)
	}

	store := NewAPIKeyStore()
	for i := range file.Keys {
		k := file.Keys[i]
		if k.Key == "" || k.PrincipalID == "" {
			return nil, fmt.Errorf("api key %d: key and principal_id are required", i)
		}
		role, err := service.ParseRole(string(k.Role))
		if err != nil {
			return nil, fmt.Errorf("api key %q: %w", k.Name, err)
		}
		k.Role = role
		store.AddKey(&k)
	}
	return store, nil
}

func (s *APIKeyStore) AddKey(key *APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key.Key] = key
}

func (s *APIKeyStore) GetKey(key string) (*APIKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	val, ok := s.keys[key]
	return val, ok
}

// ValidateKey returns the principal for an enabled key.
func (s *APIKeyStore) ValidateKey(key string) (service.Principal, error) {
	apiKey, exists := s.GetKey(key)
	if !exists {
		return service.Principal{}, ErrInvalidAPIKey
	}
	if !apiKey.Enabled {
		return service.Principal{}, ErrAPIKeyDisabled
	}
	return service.Principal{ID: apiKey.PrincipalID, Role: apiKey.Role}, nil
}

func (s *APIKeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

type APIKeyError struct {
	Code    string
	Message string
}

func (e APIKeyError) Error() string {
	return e.Message
}

var (
	ErrInvalidAPIKey  = APIKeyError{Code: "invalid_api_key", Message: "API key is invalid"}
	ErrAPIKeyDisabled = APIKeyError{Code: "api_key_disabled", Message: "API key is disabled"}
)

// APIKeyMiddleware authenticates requests carrying an X-API-Key header.
type APIKeyMiddleware struct {
	store *APIKeyStore
}

func NewAPIKeyMiddleware(store *APIKeyStore) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		store: store,
	}
}

func (am *APIKeyMiddleware) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")

			// No key: leave it to the bearer token middleware.
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			p, err := am.store.ValidateKey(apiKey)
			if err != nil {
				log.Warn().Err(err).Str("request_id", r.Header.Get("X-Request-ID")).Msg("api key rejected")
				writeUnauthorized(w, err.Error())
				return
			}

			r.Header.Set("X-User-ID", p.ID)
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
