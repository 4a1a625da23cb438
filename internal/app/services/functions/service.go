// Package functions manages stored JavaScript function definitions, their
// sealed secrets, and sandboxed execution.
package functions

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/function"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/metrics"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/services/secrets"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/storage"
	"github.com/r3e-network/neo-service-layer-sub007/internal/runtime/sandbox"
	"github.com/r3e-network/neo-service-layer-sub007/pkg/logger"
)

const (
	definitionPrefix = "functions/defs/"
	secretPrefix     = "functions/secrets/"
)

var (
	// ErrFunctionNotFound is returned when no definition exists with the
	// given ID.
	ErrFunctionNotFound = fmt.Errorf("function not found")

	// ErrSecretNotFound is returned when a stored secret is missing.
	ErrSecretNotFound = fmt.Errorf("secret not found")
)

// Runner executes a prepared sandbox input. The default runner builds a
// fresh sandbox per call so concurrent executions never share interpreter
// state.
type Runner interface {
	Run(ctx context.Context, input sandbox.Input) sandbox.Output
}

type sandboxRunner struct {
	config   sandbox.Config
	provider secrets.SecurityProvider
}

func (r sandboxRunner) Run(ctx context.Context, input sandbox.Input) sandbox.Output {
	sb := sandbox.New(r.config, r.provider)
	defer sb.Close()
	return sb.Execute(ctx, input)
}

// Service stores function definitions and runs them in the sandbox.
type Service struct {
	objects  storage.ObjectStore
	provider secrets.SecurityProvider
	runner   Runner
	clients  *sandbox.Services
	log      *logger.Logger
}

// New constructs a function service. provider may be nil; executions then
// run without secret decryption.
func New(objects storage.ObjectStore, provider secrets.SecurityProvider, sandboxCfg sandbox.Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("functions")
	}
	return &Service{
		objects:  objects,
		provider: provider,
		runner:   sandboxRunner{config: sandboxCfg, provider: provider},
		log:      log,
	}
}

// AttachClients wires the capability clients exposed to executing scripts.
func (s *Service) AttachClients(clients *sandbox.Services) {
	s.clients = clients
}

// WithRunner overrides the sandbox runner.
func (s *Service) WithRunner(r Runner) *Service {
	s.runner = r
	return s
}

// Create registers a new function definition.
func (s *Service) Create(ctx context.Context, def function.Definition) (*function.Definition, error) {
	def.Owner = strings.TrimSpace(def.Owner)
	def.Name = strings.TrimSpace(def.Name)
	if def.Owner == "" {
		return nil, fmt.Errorf("owner is required")
	}
	if def.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if strings.TrimSpace(def.Source) == "" {
		return nil, fmt.Errorf("source is required")
	}

	now := time.Now().UTC()
	def.ID = uuid.New().String()
	def.CreatedAt = now
	def.UpdatedAt = now

	if err := s.put(ctx, &def); err != nil {
		return nil, err
	}
	s.log.WithField("function_id", def.ID).
		WithField("owner", def.Owner).
		Info("function created")
	return &def, nil
}

// Update overwrites the mutable fields of a definition. Owner must match
// the stored record; identity and creation time are preserved.
func (s *Service) Update(ctx context.Context, def function.Definition) (*function.Definition, error) {
	existing, err := s.Get(ctx, def.ID)
	if err != nil {
		return nil, err
	}
	if def.Owner != "" && def.Owner != existing.Owner {
		return nil, fmt.Errorf("function %s does not belong to %s", def.ID, def.Owner)
	}

	if def.Name != "" {
		existing.Name = def.Name
	}
	if def.Description != "" {
		existing.Description = def.Description
	}
	if def.Source != "" {
		existing.Source = def.Source
	}
	if def.SecretNames != nil {
		existing.SecretNames = def.SecretNames
	}
	existing.UpdatedAt = time.Now().UTC()

	if err := s.put(ctx, existing); err != nil {
		return nil, err
	}
	s.log.WithField("function_id", existing.ID).Info("function updated")
	return existing, nil
}

// Get returns a definition by ID.
func (s *Service) Get(ctx context.Context, id string) (*function.Definition, error) {
	data, err := s.objects.Get(ctx, definitionPrefix+id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrFunctionNotFound
		}
		return nil, fmt.Errorf("load function %s: %w", id, err)
	}
	var def function.Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode function %s: %w", id, err)
	}
	return &def, nil
}

// Delete removes a definition. Owner must match the record.
func (s *Service) Delete(ctx context.Context, id, owner string) error {
	def, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if def.Owner != owner {
		return fmt.Errorf("function %s does not belong to %s", id, owner)
	}
	if err := s.objects.Delete(ctx, definitionPrefix+id); err != nil {
		return fmt.Errorf("delete function %s: %w", id, err)
	}
	s.log.WithField("function_id", id).Info("function deleted")
	return nil
}

// List returns definitions, optionally filtered by owner.
func (s *Service) List(ctx context.Context, owner string) ([]*function.Definition, error) {
	keys, err := s.objects.ListByPrefix(ctx, definitionPrefix)
	if err != nil {
		return nil, fmt.Errorf("list functions: %w", err)
	}
	defs := make([]*function.Definition, 0, len(keys))
	for _, key := range keys {
		def, err := s.Get(ctx, strings.TrimPrefix(key, definitionPrefix))
		if err != nil {
			return nil, err
		}
		if owner == "" || def.Owner == owner {
			defs = append(defs, def)
		}
	}
	return defs, nil
}

// SetSecret seals a secret value for the owner. The plaintext is encrypted
// by the security provider before it touches the store.
func (s *Service) SetSecret(ctx context.Context, owner, name string, value []byte) error {
	if s.provider == nil {
		return fmt.Errorf("security provider not configured")
	}
	owner = strings.TrimSpace(owner)
	name = strings.TrimSpace(name)
	if owner == "" || name == "" {
		return fmt.Errorf("owner and name are required")
	}

	sealed, err := s.provider.Encrypt(ctx, value)
	if err != nil {
		return fmt.Errorf("seal secret %s: %w", name, err)
	}
	encoded := base64.StdEncoding.EncodeToString(sealed)
	if err := s.objects.Put(ctx, secretKey(owner, name), []byte(encoded)); err != nil {
		return fmt.Errorf("persist secret %s: %w", name, err)
	}
	s.log.WithField("owner", owner).WithField("secret", name).Info("secret stored")
	return nil
}

// DeleteSecret removes a sealed secret.
func (s *Service) DeleteSecret(ctx context.Context, owner, name string) error {
	if _, err := s.objects.Get(ctx, secretKey(owner, name)); err != nil {
		if storage.IsNotFound(err) {
			return ErrSecretNotFound
		}
		return fmt.Errorf("load secret %s: %w", name, err)
	}
	if err := s.objects.Delete(ctx, secretKey(owner, name)); err != nil {
		return fmt.Errorf("delete secret %s: %w", name, err)
	}
	return nil
}

// ListSecrets returns the secret names stored for an owner.
func (s *Service) ListSecrets(ctx context.Context, owner string) ([]string, error) {
	prefix := secretPrefix + owner + "/"
	keys, err := s.objects.ListByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, strings.TrimPrefix(key, prefix))
	}
	return names, nil
}

// Execute runs a stored function in the sandbox. Secrets named by the
// definition are resolved to their sealed blobs; missing names are skipped
// and surface to the script as null.
func (s *Service) Execute(ctx context.Context, id, caller string, args []any) (*function.ExecutionResult, error) {
	def, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	sealed := make(map[string]string, len(def.SecretNames))
	for _, name := range def.SecretNames {
		data, err := s.objects.Get(ctx, secretKey(def.Owner, name))
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("load secret %s: %w", name, err)
		}
		sealed[name] = string(data)
	}

	fnCtx := function.NewContext(def.ID).
		WithOwner(def.Owner).
		WithCaller(caller)

	output := s.runner.Run(ctx, sandbox.Input{
		Code:     def.Source,
		Args:     args,
		Secrets:  sealed,
		Context:  fnCtx,
		Services: s.clients,
	})

	status := "success"
	if output.Error != "" {
		status = "error"
	}
	metrics.RecordFunctionExecution(status, output.Duration, output.MemoryUsed)

	s.log.WithField("function_id", def.ID).
		WithField("execution_id", fnCtx.ExecutionID).
		WithField("status", status).
		Infof("function executed in %s", output.Duration)
	return &output, nil
}

func (s *Service) put(ctx context.Context, def *function.Definition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal function %s: %w", def.ID, err)
	}
	if err := s.objects.Put(ctx, definitionPrefix+def.ID, data); err != nil {
		return fmt.Errorf("persist function %s: %w", def.ID, err)
	}
	return nil
}

func secretKey(owner, name string) string {
	return secretPrefix + owner + "/" + name
}
