package enclave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/function"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/domain/trigger"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/services/functions"
	gasbanksvc "github.com/r3e-network/neo-service-layer-sub007/internal/app/services/gasbank"
	pricefeedsvc "github.com/r3e-network/neo-service-layer-sub007/internal/app/services/pricefeed"
	transactionsvc "github.com/r3e-network/neo-service-layer-sub007/internal/app/services/transaction"
	"github.com/r3e-network/neo-service-layer-sub007/internal/app/services/triggers"
)

// Backends bundles the services the envelope handlers dispatch into. Nil
// entries leave the corresponding routes unregistered.
type Backends struct {
	Functions    *functions.Service
	GasBank      *gasbanksvc.Service
	PriceFeeds   *pricefeedsvc.Service
	Triggers     *triggers.Service
	Transactions *transactionsvc.Service
}

// RegisterHandlers installs the envelope routes for every configured
// backend plus the health probe.
func RegisterHandlers(r *Router, b Backends) {
	r.Handle("health", "ping", func(context.Context, *Request) (any, error) {
		return map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}, nil
	})

	if b.Functions != nil {
		registerFunctionHandlers(r, b.Functions)
	}
	if b.GasBank != nil {
		registerGasBankHandlers(r, b.GasBank)
	}
	if b.PriceFeeds != nil {
		registerPriceFeedHandlers(r, b.PriceFeeds)
	}
	if b.Triggers != nil {
		registerTriggerHandlers(r, b.Triggers)
	}
	if b.Transactions != nil {
		registerTransactionHandlers(r, b.Transactions)
	}
}

func decodePayload(req *Request, v any) error {
	if len(req.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}

func registerFunctionHandlers(r *Router, svc *functions.Service) {
	r.Handle("functions", "execute", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			FunctionID string `json:"functionId"`
			Args       []any  `json:"args"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return svc.Execute(ctx, in.FunctionID, req.Caller, in.Args)
	})

	r.Handle("functions", "create", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			Name        string   `json:"name"`
			Description string   `json:"description"`
			Source      string   `json:"source"`
			SecretNames []string `json:"secretNames"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return svc.Create(ctx, function.Definition{
			Owner:       req.Caller,
			Name:        in.Name,
			Description: in.Description,
			Source:      in.Source,
			SecretNames: in.SecretNames,
		})
	})

	r.Handle("functions", "get", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			FunctionID string `json:"functionId"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return svc.Get(ctx, in.FunctionID)
	})

	r.Handle("functions", "list", func(ctx context.Context, req *Request) (any, error) {
		return svc.List(ctx, req.Caller)
	})

	r.Handle("functions", "delete", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			FunctionID string `json:"functionId"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return nil, svc.Delete(ctx, in.FunctionID, req.Caller)
	})

	r.Handle("functions", "setSecret", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return nil, svc.SetSecret(ctx, req.Caller, in.Name, []byte(in.Value))
	})
}

func registerGasBankHandlers(r *Router, svc *gasbanksvc.Service) {
	r.Handle("gasbank", "createAccount", func(ctx context.Context, req *Request) (any, error) {
		if req.Caller == "" {
			return nil, fmt.Errorf("caller is required")
		}
		return svc.CreateAccount(ctx, req.Caller)
	})

	r.Handle("gasbank", "getBalance", func(ctx context.Context, req *Request) (any, error) {
		acct, err := svc.GetAccountByOwner(ctx, req.Caller)
		if err != nil {
			return nil, err
		}
		balance, available, err := svc.GetBalance(ctx, acct.ID)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"accountId": acct.ID,
			"balance":   balance.String(),
			"available": available.String(),
		}, nil
	})

	r.Handle("gasbank", "deposit", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			Amount string `json:"amount"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		amount, err := parseAmount(in.Amount)
		if err != nil {
			return nil, err
		}
		acct, err := svc.GetAccountByOwner(ctx, req.Caller)
		if errors.Is(err, gasbanksvc.ErrAccountNotFound) {
			acct, err = svc.CreateAccount(ctx, req.Caller)
		}
		if err != nil {
			return nil, err
		}
		return svc.Deposit(ctx, acct.ID, amount)
	})

	r.Handle("gasbank", "withdraw", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			Amount string `json:"amount"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		amount, err := parseAmount(in.Amount)
		if err != nil {
			return nil, err
		}
		acct, err := svc.GetAccountByOwner(ctx, req.Caller)
		if err != nil {
			return nil, err
		}
		return svc.Withdraw(ctx, acct.ID, amount)
	})

	r.Handle("gasbank", "reserveGas", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			Amount     string `json:"amount"`
			TTLSeconds int    `json:"ttlSeconds"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		amount, err := parseAmount(in.Amount)
		if err != nil {
			return nil, err
		}
		acct, err := svc.GetAccountByOwner(ctx, req.Caller)
		if err != nil {
			return nil, err
		}
		return svc.ReserveGas(ctx, acct.ID, amount, time.Duration(in.TTLSeconds)*time.Second)
	})

	r.Handle("gasbank", "releaseGas", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			ReservationID string `json:"reservationId"`
			AmountUsed    string `json:"amountUsed"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		used, err := parseAmount(in.AmountUsed)
		if err != nil {
			return nil, err
		}
		acct, err := svc.GetAccountByOwner(ctx, req.Caller)
		if err != nil {
			return nil, err
		}
		return nil, svc.ReleaseGas(ctx, in.ReservationID, acct.ID, used)
	})

	r.Handle("gasbank", "listReservations", func(ctx context.Context, req *Request) (any, error) {
		acct, err := svc.GetAccountByOwner(ctx, req.Caller)
		if err != nil {
			return nil, err
		}
		return svc.ListReservations(ctx, acct.ID)
	})
}

func registerPriceFeedHandlers(r *Router, svc *pricefeedsvc.Service) {
	r.Handle("pricefeed", "getPrice", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			Pair string `json:"pair"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return svc.GetPrice(ctx, in.Pair)
	})

	r.Handle("pricefeed", "listPrices", func(ctx context.Context, _ *Request) (any, error) {
		return svc.ListPrices(ctx)
	})

	r.Handle("pricefeed", "updatePrice", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			Pair   string  `json:"pair"`
			Value  float64 `json:"value"`
			Source string  `json:"source"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return svc.UpdatePrice(ctx, in.Pair, in.Value, in.Source)
	})
}

func registerTriggerHandlers(r *Router, svc *triggers.Service) {
	r.Handle("trigger", "create", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			FunctionID string `json:"functionId"`
			Type       string `json:"type"`
			EventName  string `json:"eventName"`
			Condition  string `json:"condition"`
			Expected   string `json:"expected"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return svc.Register(ctx, trigger.Trigger{
			Owner:      req.Caller,
			FunctionID: in.FunctionID,
			Type:       trigger.Type(in.Type),
			EventName:  in.EventName,
			Condition:  in.Condition,
			Expected:   in.Expected,
		})
	})

	r.Handle("trigger", "delete", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			TriggerID string `json:"triggerId"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return nil, svc.Delete(ctx, in.TriggerID, req.Caller)
	})

	r.Handle("trigger", "list", func(ctx context.Context, req *Request) (any, error) {
		return svc.List(ctx, req.Caller)
	})

	r.Handle("trigger", "fire", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			EventName string          `json:"eventName"`
			Payload   json.RawMessage `json:"payload"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return svc.Match(ctx, in.EventName, in.Payload)
	})
}

func registerTransactionHandlers(r *Router, svc *transactionsvc.Service) {
	r.Handle("transaction", "create", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			From   string `json:"from"`
			To     string `json:"to"`
			Amount string `json:"amount"`
			Data   []byte `json:"data"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		amount, err := parseAmount(in.Amount)
		if err != nil {
			return nil, err
		}
		return svc.Create(ctx, req.Caller, in.From, in.To, amount, in.Data)
	})

	r.Handle("transaction", "sign", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			TransactionID string `json:"transactionId"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return svc.Sign(ctx, in.TransactionID, req.Caller)
	})

	r.Handle("transaction", "send", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			TransactionID string `json:"transactionId"`
			GasAccountID  string `json:"gasAccountId"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return svc.Send(ctx, in.TransactionID, req.Caller, in.GasAccountID)
	})

	r.Handle("transaction", "get", func(ctx context.Context, req *Request) (any, error) {
		var in struct {
			TransactionID string `json:"transactionId"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return svc.Get(ctx, in.TransactionID, req.Caller)
	})

	r.Handle("transaction", "list", func(ctx context.Context, req *Request) (any, error) {
		return svc.List(ctx, req.Caller)
	})

	r.Handle("transaction", "estimateFee", func(_ context.Context, req *Request) (any, error) {
		var in struct {
			Data []byte `json:"data"`
		}
		if err := decodePayload(req, &in); err != nil {
			return nil, err
		}
		return map[string]string{"fee": svc.EstimateFee(in.Data).String()}, nil
	})
}
