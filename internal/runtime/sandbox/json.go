package sandbox

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/function"
)

// jsonInput mirrors Input without the service clients, which cannot cross a
// JSON boundary.
type jsonInput struct {
	Code    string            `json:"code"`
	Args    []any             `json:"args,omitempty"`
	Secrets map[string]string `json:"secrets,omitempty"`
	Context *function.Context `json:"context,omitempty"`
}

// ExecuteJSON runs a script with JSON-serialized input and output. It is
// the entry point used by the envelope router.
func (s *Sandbox) ExecuteJSON(ctx context.Context, raw []byte, services *Services) ([]byte, error) {
	var in jsonInput
	if err := json.Unmarshal(raw, &in); err != nil {
		s.logger.Error("parse execution input", zap.Error(err))
		return nil, fmt.Errorf("parse execution input: %w", err)
	}

	fnCtx := in.Context
	if fnCtx == nil {
		fnCtx = function.NewContext("unknown")
	} else if fnCtx.ExecutionID == "" {
		fnCtx.ExecutionID = function.NewContext(fnCtx.FunctionID).ExecutionID
	}

	s.logger.Info("executing function",
		zap.String("functionId", fnCtx.FunctionID),
		zap.String("executionId", fnCtx.ExecutionID))

	output := s.Execute(ctx, Input{
		Code:     in.Code,
		Args:     in.Args,
		Secrets:  in.Secrets,
		Context:  fnCtx,
		Services: services,
	})

	encoded, err := json.Marshal(output)
	if err != nil {
		s.logger.Error("serialize execution output",
			zap.String("executionId", fnCtx.ExecutionID),
			zap.Error(err))
		return nil, fmt.Errorf("serialize execution output: %w", err)
	}

	s.logger.Info("function execution finished",
		zap.String("executionId", fnCtx.ExecutionID),
		zap.Duration("duration", output.Duration),
		zap.Uint64("memoryUsed", output.MemoryUsed),
		zap.Bool("failed", output.Error != ""))
	return encoded, nil
}
