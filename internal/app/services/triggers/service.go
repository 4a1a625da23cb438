// Package triggers manages event trigger records and condition matching.
package triggers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/trigger"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage"
	"github.com/r3e-network/neo-service-layer-sub007/pkg/logger"
)

const triggerPrefix = "triggers/"

// ErrTriggerNotFound is returned when no trigger exists with the given ID.
var ErrTriggerNotFound = fmt.Errorf("trigger not found")

// Service manages trigger records and evaluates event payloads against them.
type Service struct {
	objects storage.ObjectStore
	log     *logger.Logger
}

// New constructs a trigger service.
func New(objects storage.ObjectStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("triggers")
	}
	return &Service{objects: objects, log: log}
}

// Register creates a trigger after validating its shape.
func (s *Service) Register(ctx context.Context, trg trigger.Trigger) (*trigger.Trigger, error) {
	trg.Owner = strings.TrimSpace(trg.Owner)
	trg.FunctionID = strings.TrimSpace(trg.FunctionID)
	trg.EventName = strings.TrimSpace(trg.EventName)
	trg.Condition = strings.TrimSpace(trg.Condition)

	if trg.Owner == "" || trg.FunctionID == "" {
		return nil, fmt.Errorf("owner and function_id are required")
	}
	if trg.Type == "" {
		trg.Type = trigger.TypeEvent
	}
	trg.Type = trigger.Type(strings.ToLower(string(trg.Type)))
	switch trg.Type {
	case trigger.TypeEvent, trigger.TypePrice:
	default:
		return nil, fmt.Errorf("unsupported trigger type %q", trg.Type)
	}
	if trg.EventName == "" {
		return nil, fmt.Errorf("event_name is required")
	}

	now := time.Now().UTC()
	trg.ID = uuid.New().String()
	trg.Enabled = true
	trg.CreatedAt = now
	trg.UpdatedAt = now

	if err := s.put(ctx, &trg); err != nil {
		return nil, err
	}
	s.log.WithField("trigger_id", trg.ID).
		WithField("owner", trg.Owner).
		WithField("function_id", trg.FunctionID).
		Info("trigger registered")
	return &trg, nil
}

// Get returns a trigger by ID.
func (s *Service) Get(ctx context.Context, id string) (*trigger.Trigger, error) {
	data, err := s.objects.Get(ctx, triggerPrefix+id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrTriggerNotFound
		}
		return nil, fmt.Errorf("load trigger %s: %w", id, err)
	}
	var trg trigger.Trigger
	if err := json.Unmarshal(data, &trg); err != nil {
		return nil, fmt.Errorf("decode trigger %s: %w", id, err)
	}
	return &trg, nil
}

// Delete removes a trigger. Owner must match the record.
func (s *Service) Delete(ctx context.Context, id, owner string) error {
	trg, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if trg.Owner != owner {
		return fmt.Errorf("trigger %s does not belong to %s", id, owner)
	}
	if err := s.objects.Delete(ctx, triggerPrefix+id); err != nil {
		return fmt.Errorf("delete trigger %s: %w", id, err)
	}
	s.log.WithField("trigger_id", id).Info("trigger deleted")
	return nil
}

// List returns triggers, optionally filtered by owner.
func (s *Service) List(ctx context.Context, owner string) ([]*trigger.Trigger, error) {
	keys, err := s.objects.ListByPrefix(ctx, triggerPrefix)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	triggers := make([]*trigger.Trigger, 0, len(keys))
	for _, key := range keys {
		trg, err := s.Get(ctx, strings.TrimPrefix(key, triggerPrefix))
		if err != nil {
			return nil, err
		}
		if owner == "" || trg.Owner == owner {
			triggers = append(triggers, trg)
		}
	}
	return triggers, nil
}

// SetEnabled toggles a trigger.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*trigger.Trigger, error) {
	trg, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	trg.Enabled = enabled
	trg.UpdatedAt = time.Now().UTC()
	if err := s.put(ctx, trg); err != nil {
		return nil, err
	}
	return trg, nil
}

// Match returns the enabled triggers fired by the given event payload. The
// condition is a JSON path into the payload; an empty condition matches any
// payload for the event name.
func (s *Service) Match(ctx context.Context, eventName string, payload []byte) ([]*trigger.Trigger, error) {
	triggers, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}

	var fired []*trigger.Trigger
	for _, trg := range triggers {
		if !trg.Enabled || trg.EventName != eventName {
			continue
		}
		if trg.Condition == "" {
			fired = append(fired, trg)
			continue
		}
		value := gjson.GetBytes(payload, trg.Condition)
		if !value.Exists() {
			continue
		}
		if trg.Expected == "" || value.String() == trg.Expected {
			fired = append(fired, trg)
		}
	}
	return fired, nil
}

func (s *Service) put(ctx context.Context, trg *trigger.Trigger) error {
	data, err := json.Marshal(trg)
	if err != nil {
		return fmt.Errorf("marshal trigger %s: %w", trg.ID, err)
	}
	if err := s.objects.Put(ctx, triggerPrefix+trg.ID, data); err != nil {
		return fmt.Errorf("persist trigger %s: %w", trg.ID, err)
	}
	return nil
}
