package router

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"supportloop/internal/domain"
	"supportloop/internal/integrations/llm"
	"supportloop/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/yaml.v3"
)

var (
	routedCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "supportloop_router_calls_total",
		Help: "Completion calls by assigned variant role.",
	}, []string{"role"})
	candidateFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "supportloop_router_candidate_fallbacks_total",
		Help: "Candidate calls that failed and were retried against the base model.",
	})
)

// Router holds the live variant config. Assign and Complete read an atomic
// snapshot, so a reload never blocks callers.
type Router struct {
	cfg       atomic.Pointer[domain.VariantConfig]
	completer llm.Completer
}

func New(initial domain.VariantConfig, completer llm.Completer) (*Router, error) {
	if err := Validate(initial); err != nil {
		return nil, err
	}
	r := &Router{completer: completer}
	r.store(initial)
	return r, nil
}

func (r *Router) Config() domain.VariantConfig {
	return *r.cfg.Load()
}

func (r *Router) Assign(userID string) domain.Assignment {
	return Assign(userID, r.Config())
}

func (r *Router) store(cfg domain.VariantConfig) {
	cfg.Base.Role = domain.RoleBase
	cfg.Candidate.Role = domain.RoleCandidate
	r.cfg.Store(&cfg)
}

// Reply is a routed completion.
type Reply struct {
	Text       string
	Assignment domain.Assignment
	ServedBy   string
	FellBack   bool
}

// Complete sends req to the user's variant. A failed candidate call is
// retried once against the base model; only a base failure is returned.
func (r *Router) Complete(ctx context.Context, userID string, req llm.Request) (Reply, error) {
	cfg := r.Config()
	a := Assign(userID, cfg)

	req.Model = a.VariantKey
	text, err := r.completer.Complete(ctx, req)
	if err == nil {
		routedCalls.WithLabelValues(roleLabel(a)).Inc()
		return Reply{Text: text, Assignment: a, ServedBy: a.VariantKey}, nil
	}
	if !a.IsCandidate {
		return Reply{Assignment: a}, err
	}

	logger.Log.Warnf("router candidate=%s failed for bucket=%d, retrying base=%s: %v",
		a.VariantKey, a.Bucket, cfg.Base.Key, err)
	candidateFallbacks.Inc()
	req.Model = cfg.Base.Key
	text, err = r.completer.Complete(ctx, req)
	if err != nil {
		return Reply{Assignment: a, FellBack: true}, err
	}
	routedCalls.WithLabelValues(string(domain.RoleBase)).Inc()
	return Reply{Text: text, Assignment: a, ServedBy: cfg.Base.Key, FellBack: true}, nil
}

func roleLabel(a domain.Assignment) string {
	if a.IsCandidate {
		return string(domain.RoleCandidate)
	}
	return string(domain.RoleBase)
}

// Validate rejects configs that cannot route.
func Validate(cfg domain.VariantConfig) error {
	if strings.TrimSpace(cfg.Base.Key) == "" {
		return fmt.Errorf("variants: base key is required")
	}
	w := cfg.Candidate.TrafficWeightPercent
	if w < 0 || w > BucketCount {
		return fmt.Errorf("variants: candidate traffic_percent must be within 0-%d, got %d", BucketCount, w)
	}
	if w > 0 && strings.TrimSpace(cfg.Candidate.Key) == "" {
		return fmt.Errorf("variants: candidate key is required when traffic_percent > 0")
	}
	if cfg.Candidate.Key != "" && cfg.Candidate.Key == cfg.Base.Key {
		return fmt.Errorf("variants: candidate and base share key %q", cfg.Base.Key)
	}
	return nil
}

// LoadVariants reads and validates a variants YAML file.
func LoadVariants(path string) (domain.VariantConfig, error) {
	var cfg domain.VariantConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, Validate(cfg)
}

// Reload swaps in the file's config. An invalid file leaves the current
// config in place.
func (r *Router) Reload(path string) error {
	cfg, err := LoadVariants(path)
	if err != nil {
		return err
	}
	r.store(cfg)
	logger.Log.Infof("router variants reloaded base=%s candidate=%s traffic_percent=%d",
		cfg.Base.Key, cfg.Candidate.Key, cfg.Candidate.TrafficWeightPercent)
	return nil
}

// Watch reloads the variants file whenever it changes, until ctx is done.
// The directory is watched so editors that replace the file by rename are
// picked up.
func (r *Router) Watch(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}
	logger.Log.Infof("router watching variants path=%s", path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := r.Reload(path); err != nil {
					logger.Log.Warnf("router variants reload ignored path=%s: %v", path, err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Log.Warnf("router variants watcher error: %v", err)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}
