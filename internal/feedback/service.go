// Package feedback serves routed replies, records them as interactions and
// turns "not useful" ratings into failure records.
package feedback

import (
	"context"
	"fmt"
	"strings"

	"supportloop/internal/domain"
	"supportloop/internal/integrations/llm"
	"supportloop/internal/logger"
	"supportloop/internal/router"
	"supportloop/internal/scoring"
)

type Store interface {
	RecordInteraction(ctx context.Context, in domain.Interaction) (string, error)
	GetInteraction(ctx context.Context, id string) (domain.Interaction, error)
	RateInteraction(ctx context.Context, id string, useful bool) error
	RecordFailure(ctx context.Context, in domain.FailureInput) (string, error)
}

// Rating is a reviewer verdict. Correction and Explanation only matter when
// Useful is false.
type Rating struct {
	Useful      bool
	Correction  string
	Explanation string
}

type Service struct {
	store      Store
	router     *router.Router
	confidence scoring.ConfidenceEstimator
	persona    string
}

func NewService(store Store, r *router.Router, confidence scoring.ConfidenceEstimator, persona string) *Service {
	if confidence == nil {
		confidence = scoring.HeuristicConfidence{}
	}
	return &Service{store: store, router: r, confidence: confidence, persona: persona}
}

// Reply answers a customer through the router and records the interaction
// under the user's assigned variant.
func (s *Service) Reply(ctx context.Context, userID, message string) (domain.Interaction, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(message) == "" {
		return domain.Interaction{}, fmt.Errorf("user id and message are required")
	}
	reply, err := s.router.Complete(ctx, userID, llm.Request{
		System:      s.persona,
		Prompt:      message,
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	if err != nil {
		return domain.Interaction{}, err
	}
	in := domain.Interaction{
		UserID:          userID,
		VariantKey:      reply.Assignment.VariantKey,
		CustomerMessage: message,
		AssistantReply:  strings.TrimSpace(reply.Text),
	}
	return s.Record(ctx, in)
}

// Record stores a reply served elsewhere. A non-positive confidence is
// replaced by the estimator's.
func (s *Service) Record(ctx context.Context, in domain.Interaction) (domain.Interaction, error) {
	if in.Confidence <= 0 {
		in.Confidence = s.confidence.Estimate(in.AssistantReply)
	}
	if in.VariantKey == "" && s.router != nil {
		in.VariantKey = s.router.Assign(in.UserID).VariantKey
	}
	id, err := s.store.RecordInteraction(ctx, in)
	if err != nil {
		return domain.Interaction{}, err
	}
	in.ID = id
	logger.Log.Debugf("feedback interaction id=%s variant=%s confidence=%.2f", id, in.VariantKey, in.Confidence)
	return in, nil
}

// Rate stores the verdict. A "not useful" rating also captures a failure
// record and returns its id.
func (s *Service) Rate(ctx context.Context, interactionID string, r Rating) (string, error) {
	in, err := s.store.GetInteraction(ctx, interactionID)
	if err != nil {
		return "", err
	}
	if err := s.store.RateInteraction(ctx, interactionID, r.Useful); err != nil {
		return "", err
	}
	if r.Useful {
		return "", nil
	}

	failureID, err := s.store.RecordFailure(ctx, domain.FailureInput{
		CustomerMessage: in.CustomerMessage,
		AssistantReply:  in.AssistantReply,
		Explanation:     strings.TrimSpace(r.Explanation),
		HumanCorrection: strings.TrimSpace(r.Correction),
	})
	if err != nil {
		return "", err
	}
	logger.Log.Infof("feedback failure captured id=%s interaction=%s variant=%s", failureID, interactionID, in.VariantKey)
	return failureID, nil
}
