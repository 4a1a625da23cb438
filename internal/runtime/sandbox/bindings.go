package sandbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/function"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/trigger"
)

// setupExecutionEnvironment binds console, context, secrets, and optionally
// the service capabilities into the interpreter. Called with the sandbox
// mutex held.
func (s *Sandbox) setupExecutionEnvironment(ctx context.Context, fnCtx *function.Context, output *Output) error {
	if err := s.vm.Set("console", s.createConsoleObject(output)); err != nil {
		return fmt.Errorf("set console object: %w", err)
	}
	if err := s.vm.Set("context", s.createContextObject(fnCtx)); err != nil {
		return fmt.Errorf("set context object: %w", err)
	}
	if err := s.vm.Set("secrets", s.createSecretsObject(ctx, fnCtx)); err != nil {
		return fmt.Errorf("set secrets object: %w", err)
	}

	// Binding failures are non-fatal: the script runs without the service
	// surface rather than aborting.
	if s.config.EnableInteroperability {
		if err := s.setupServiceBindings(ctx, fnCtx); err != nil {
			s.logger.Warn("service bindings unavailable",
				zap.String("executionId", fnCtx.ExecutionID),
				zap.Error(err))
		}
	}
	return nil
}

// createConsoleObject builds the console binding. Log lines append to the
// captured output and forward to the host logger.
func (s *Sandbox) createConsoleObject(output *Output) map[string]any {
	logFn := func(level string, args ...any) {
		msg := formatLogArgs(args...)
		output.Logs = append(output.Logs, fmt.Sprintf("%s: %s", level, msg))
		s.logger.Debug("script log", zap.String("level", level), zap.String("message", msg))
	}
	return map[string]any{
		"log":   func(args ...any) { logFn("LOG", args...) },
		"info":  func(args ...any) { logFn("INFO", args...) },
		"warn":  func(args ...any) { logFn("WARN", args...) },
		"error": func(args ...any) { logFn("ERROR", args...) },
	}
}

func formatLogArgs(args ...any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, len(args))
	for i, v := range args {
		parts[i] = fmt.Sprintf("%+v", v)
	}
	return strings.Join(parts, " ")
}

// createContextObject exposes execution identity as read-only data.
func (s *Sandbox) createContextObject(fnCtx *function.Context) map[string]any {
	return map[string]any{
		"functionId":  fnCtx.FunctionID,
		"executionId": fnCtx.ExecutionID,
		"owner":       fnCtx.Owner,
		"caller":      fnCtx.Caller,
		"parameters":  fnCtx.Parameters,
		"environment": fnCtx.Environment,
		"traceId":     fnCtx.TraceID,
	}
}

// createSecretsObject builds the secrets binding. A name that was never
// supplied returns null so scripts can probe for optional secrets; a
// decryption failure or missing provider raises a script-visible error so
// real failures are never silently swallowed.
func (s *Sandbox) createSecretsObject(ctx context.Context, fnCtx *function.Context) map[string]any {
	return map[string]any{
		"get": func(call goja.FunctionCall) goja.Value {
			s.mutex.RLock()
			provider := s.provider
			secretMap := s.currentSecrets
			vm := s.vm
			log := s.logger
			s.mutex.RUnlock()

			if provider == nil {
				panic(vm.NewGoError(errors.New("secrets decryption unavailable: security provider not configured")))
			}

			name := call.Argument(0).String()
			if name == "" {
				panic(vm.NewGoError(errors.New("secrets.get requires a non-empty secret name")))
			}

			encoded, exists := secretMap[name]
			if !exists {
				log.Warn("script requested secret not provided to execution",
					zap.String("secret", name),
					zap.String("functionId", fnCtx.FunctionID))
				return goja.Null()
			}

			ciphertext, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				log.Error("decode secret before decryption",
					zap.String("secret", name), zap.Error(err))
				panic(vm.NewGoError(fmt.Errorf("failed to decode secret %q", name)))
			}

			plaintext, err := provider.Decrypt(ctx, ciphertext)
			if err != nil {
				log.Error("decrypt secret",
					zap.String("secret", name), zap.Error(err))
				panic(vm.NewGoError(fmt.Errorf("failed to decrypt secret %q", name)))
			}
			return vm.ToValue(string(plaintext))
		},
	}
}

// setupServiceBindings attaches the capability bindings for the current
// execution. Each binding is a pass-through adapter holding only the client
// reference and the execution's authorization context.
func (s *Sandbox) setupServiceBindings(ctx context.Context, fnCtx *function.Context) error {
	services := s.currentServices
	if services == nil {
		return errors.New("no service clients attached")
	}

	bindings := map[string]map[string]any{
		"gasbank":     s.createGasBankBinding(ctx, fnCtx, services.GasBank),
		"pricefeed":   s.createPriceFeedBinding(ctx, services.PriceFeed),
		"trigger":     s.createTriggerBinding(ctx, fnCtx, services.Trigger),
		"transaction": s.createTransactionBinding(ctx, fnCtx, services.Transaction),
		"wallet":      s.createWalletBinding(ctx, fnCtx, services.Wallet),
		"storage":     s.createStorageBinding(ctx, fnCtx, services.Storage),
		"oracle":      s.createOracleBinding(ctx, fnCtx, services.Oracle),
	}
	for name, binding := range bindings {
		if err := s.vm.Set(name, binding); err != nil {
			return fmt.Errorf("set %s binding: %w", name, err)
		}
	}
	return nil
}

// throw raises a script-visible error.
func (s *Sandbox) throw(format string, args ...any) {
	panic(s.vm.NewGoError(fmt.Errorf(format, args...)))
}

func (s *Sandbox) requireClient(client any, name string) {
	if client == nil {
		s.throw("%s service not available", name)
	}
}

// parseAmount accepts a script number or decimal string.
func (s *Sandbox) parseAmount(v goja.Value) *big.Int {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		s.throw("amount is required")
	}
	switch exported := v.Export().(type) {
	case int64:
		return big.NewInt(exported)
	case float64:
		if exported != float64(int64(exported)) {
			s.throw("amount must be an integer")
		}
		return big.NewInt(int64(exported))
	case string:
		amount, ok := new(big.Int).SetString(strings.TrimSpace(exported), 10)
		if !ok {
			s.throw("invalid amount %q", exported)
		}
		return amount
	default:
		s.throw("unsupported amount type %T", exported)
	}
	return nil
}

func (s *Sandbox) createGasBankBinding(ctx context.Context, fnCtx *function.Context, client GasBankClient) map[string]any {
	owner := fnCtx.Owner
	return map[string]any{
		"getBalance": func(goja.FunctionCall) goja.Value {
			s.requireClient(client, "gasbank")
			balance, available, err := client.GetBalance(ctx, owner)
			if err != nil {
				s.throw("gasbank.getBalance: %v", err)
			}
			return s.vm.ToValue(map[string]any{
				"balance":   balance.String(),
				"available": available.String(),
			})
		},
		"deposit": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "gasbank")
			amount := s.parseAmount(call.Argument(0))
			if err := client.Deposit(ctx, owner, amount); err != nil {
				s.throw("gasbank.deposit: %v", err)
			}
			return goja.Undefined()
		},
		"withdraw": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "gasbank")
			amount := s.parseAmount(call.Argument(0))
			if err := client.Withdraw(ctx, owner, amount); err != nil {
				s.throw("gasbank.withdraw: %v", err)
			}
			return goja.Undefined()
		},
		"reserve": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "gasbank")
			amount := s.parseAmount(call.Argument(0))
			reservationID, err := client.Reserve(ctx, owner, amount)
			if err != nil {
				s.throw("gasbank.reserve: %v", err)
			}
			return s.vm.ToValue(reservationID)
		},
		"release": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "gasbank")
			reservationID := call.Argument(0).String()
			amountUsed := s.parseAmount(call.Argument(1))
			if err := client.Release(ctx, owner, reservationID, amountUsed); err != nil {
				s.throw("gasbank.release: %v", err)
			}
			return goja.Undefined()
		},
	}
}

func (s *Sandbox) createPriceFeedBinding(ctx context.Context, client PriceFeedClient) map[string]any {
	return map[string]any{
		"getPrice": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "pricefeed")
			price, err := client.GetPrice(ctx, call.Argument(0).String())
			if err != nil {
				s.throw("pricefeed.getPrice: %v", err)
			}
			return s.vm.ToValue(map[string]any{
				"pair":   price.Pair,
				"value":  price.Value,
				"source": price.Source,
			})
		},
		"listPrices": func(goja.FunctionCall) goja.Value {
			s.requireClient(client, "pricefeed")
			prices, err := client.ListPrices(ctx)
			if err != nil {
				s.throw("pricefeed.listPrices: %v", err)
			}
			out := make([]map[string]any, 0, len(prices))
			for _, price := range prices {
				out = append(out, map[string]any{
					"pair":   price.Pair,
					"value":  price.Value,
					"source": price.Source,
				})
			}
			return s.vm.ToValue(out)
		},
	}
}

func (s *Sandbox) createTriggerBinding(ctx context.Context, fnCtx *function.Context, client TriggerClient) map[string]any {
	owner := fnCtx.Owner
	return map[string]any{
		"create": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "trigger")
			var spec struct {
				FunctionID string `json:"functionId"`
				EventName  string `json:"eventName"`
				Condition  string `json:"condition"`
				Expected   string `json:"expected"`
			}
			if err := s.vm.ExportTo(call.Argument(0), &spec); err != nil {
				s.throw("trigger.create: invalid specification: %v", err)
			}
			if spec.FunctionID == "" {
				spec.FunctionID = fnCtx.FunctionID
			}
			created, err := client.Create(ctx, trigger.Trigger{
				Owner:      owner,
				FunctionID: spec.FunctionID,
				EventName:  spec.EventName,
				Condition:  spec.Condition,
				Expected:   spec.Expected,
			})
			if err != nil {
				s.throw("trigger.create: %v", err)
			}
			return s.vm.ToValue(created.ID)
		},
		"delete": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "trigger")
			if err := client.Delete(ctx, call.Argument(0).String(), owner); err != nil {
				s.throw("trigger.delete: %v", err)
			}
			return goja.Undefined()
		},
		"list": func(goja.FunctionCall) goja.Value {
			s.requireClient(client, "trigger")
			triggers, err := client.List(ctx, owner)
			if err != nil {
				s.throw("trigger.list: %v", err)
			}
			out := make([]map[string]any, 0, len(triggers))
			for _, trg := range triggers {
				out = append(out, map[string]any{
					"id":         trg.ID,
					"functionId": trg.FunctionID,
					"eventName":  trg.EventName,
					"enabled":    trg.Enabled,
				})
			}
			return s.vm.ToValue(out)
		},
	}
}

func (s *Sandbox) createTransactionBinding(ctx context.Context, fnCtx *function.Context, client TransactionClient) map[string]any {
	owner := fnCtx.Owner
	return map[string]any{
		"create": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "transaction")
			from := call.Argument(0).String()
			to := call.Argument(1).String()
			amount := s.parseAmount(call.Argument(2))
			var data []byte
			if arg := call.Argument(3); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
				data = []byte(arg.String())
			}
			tx, err := client.Create(ctx, owner, from, to, amount, data)
			if err != nil {
				s.throw("transaction.create: %v", err)
			}
			return s.vm.ToValue(tx.ID)
		},
		"sign": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "transaction")
			tx, err := client.Sign(ctx, call.Argument(0).String(), owner)
			if err != nil {
				s.throw("transaction.sign: %v", err)
			}
			return s.vm.ToValue(string(tx.Status))
		},
		"send": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "transaction")
			tx, err := client.Send(ctx, call.Argument(0).String(), owner)
			if err != nil {
				s.throw("transaction.send: %v", err)
			}
			return s.vm.ToValue(tx.Hash)
		},
		"get": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "transaction")
			tx, err := client.Get(ctx, call.Argument(0).String(), owner)
			if err != nil {
				s.throw("transaction.get: %v", err)
			}
			return s.vm.ToValue(map[string]any{
				"id":     tx.ID,
				"from":   tx.From,
				"to":     tx.To,
				"amount": tx.Amount.String(),
				"status": string(tx.Status),
				"hash":   tx.Hash,
			})
		},
		"list": func(goja.FunctionCall) goja.Value {
			s.requireClient(client, "transaction")
			txs, err := client.List(ctx, owner)
			if err != nil {
				s.throw("transaction.list: %v", err)
			}
			out := make([]map[string]any, 0, len(txs))
			for _, tx := range txs {
				out = append(out, map[string]any{
					"id":     tx.ID,
					"status": string(tx.Status),
					"hash":   tx.Hash,
				})
			}
			return s.vm.ToValue(out)
		},
		"estimateFee": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "transaction")
			var data []byte
			if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
				data = []byte(arg.String())
			}
			fee, err := client.EstimateFee(ctx, data)
			if err != nil {
				s.throw("transaction.estimateFee: %v", err)
			}
			return s.vm.ToValue(fee.String())
		},
	}
}

func (s *Sandbox) createWalletBinding(ctx context.Context, fnCtx *function.Context, client WalletClient) map[string]any {
	owner := fnCtx.Owner
	return map[string]any{
		"getAddress": func(goja.FunctionCall) goja.Value {
			s.requireClient(client, "wallet")
			address, err := client.GetAddress(ctx, owner)
			if err != nil {
				s.throw("wallet.getAddress: %v", err)
			}
			return s.vm.ToValue(address)
		},
		"signMessage": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "wallet")
			signature, err := client.SignMessage(ctx, owner, call.Argument(0).String())
			if err != nil {
				s.throw("wallet.signMessage: %v", err)
			}
			return s.vm.ToValue(signature)
		},
	}
}

func (s *Sandbox) createStorageBinding(ctx context.Context, fnCtx *function.Context, client StorageClient) map[string]any {
	owner := fnCtx.Owner
	return map[string]any{
		"get": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "storage")
			value, err := client.Get(ctx, owner, call.Argument(0).String())
			if err != nil {
				s.throw("storage.get: %v", err)
			}
			if value == nil {
				return goja.Null()
			}
			return s.vm.ToValue(string(value))
		},
		"put": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "storage")
			key := call.Argument(0).String()
			value := call.Argument(1).String()
			if err := client.Put(ctx, owner, key, []byte(value)); err != nil {
				s.throw("storage.put: %v", err)
			}
			return goja.Undefined()
		},
		"delete": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "storage")
			if err := client.Delete(ctx, owner, call.Argument(0).String()); err != nil {
				s.throw("storage.delete: %v", err)
			}
			return goja.Undefined()
		},
		"list": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "storage")
			keys, err := client.List(ctx, owner, call.Argument(0).String())
			if err != nil {
				s.throw("storage.list: %v", err)
			}
			return s.vm.ToValue(keys)
		},
	}
}

func (s *Sandbox) createOracleBinding(ctx context.Context, fnCtx *function.Context, client OracleClient) map[string]any {
	owner := fnCtx.Owner
	return map[string]any{
		"getData": func(call goja.FunctionCall) goja.Value {
			s.requireClient(client, "oracle")
			data, err := client.GetData(ctx, owner, call.Argument(0).String())
			if err != nil {
				s.throw("oracle.getData: %v", err)
			}
			return s.vm.ToValue(data)
		},
	}
}
